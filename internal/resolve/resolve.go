// Package resolve maps canonical lead fields onto the many spellings
// enrichment vendors use for them. Display, scoring, filtering and sorting
// all go through the same chains so that they agree with each other.
package resolve

import (
	"regexp"
	"strings"

	"github.com/sells-group/prospect-cli/internal/model"
)

// Missing is the display placeholder for an unresolved field.
const Missing = "N/A"

// Field names a canonical lead attribute.
type Field string

const (
	FieldName            Field = "name"
	FieldTitle           Field = "title"
	FieldCompany         Field = "company"
	FieldEmail           Field = "email"
	FieldPhone           Field = "phone"
	FieldLinkedIn        Field = "linkedin_url"
	FieldLocation        Field = "location"
	FieldIndustry        Field = "industry"
	FieldCompanySize     Field = "company_size"
	FieldWebsite         Field = "website"
	FieldCompanyLinkedIn Field = "company_linkedin_url"
)

// Accessor extracts one candidate value for a field, returning "" when it
// has nothing.
type Accessor func(l *model.Lead) string

// Chain is an ordered list of accessors tried until one yields a present value.
type Chain []Accessor

// First returns the first present value in the chain, or "".
func (c Chain) First(l *model.Lead) string {
	if l == nil {
		return ""
	}
	for _, get := range c {
		if v := strings.TrimSpace(get(l)); !IsMissing(v) {
			return v
		}
	}
	return ""
}

// IsMissing reports whether s counts as absent: empty after trimming or
// the literal "N/A".
func IsMissing(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, Missing)
}

// Value resolves f for l. Unknown fields resolve to "".
func Value(l *model.Lead, f Field) string {
	c, ok := chains[f]
	if !ok {
		return ""
	}
	return c.First(l)
}

// Display resolves f for l, substituting "N/A" when nothing is found.
func Display(l *model.Lead, f Field) string {
	if v := Value(l, f); v != "" {
		return v
	}
	return Missing
}

// Has reports whether f resolves to a present value.
func Has(l *model.Lead, f Field) bool {
	return Value(l, f) != ""
}

// Fields lists every resolvable field.
func Fields() []Field {
	return []Field{
		FieldName, FieldTitle, FieldCompany, FieldEmail, FieldPhone, FieldLinkedIn,
		FieldLocation, FieldIndustry, FieldCompanySize, FieldWebsite, FieldCompanyLinkedIn,
	}
}

// key reads a top-level key from the extra data bag.
func key(names ...string) Accessor {
	return func(l *model.Lead) string {
		for _, n := range names {
			if v := l.AdditionalData.String(n); !IsMissing(v) {
				return v
			}
		}
		return ""
	}
}

// nested reads a dotted path from the extra data bag, e.g. "organization.name".
func nested(paths ...string) Accessor {
	return func(l *model.Lead) string {
		for _, p := range paths {
			v := strings.TrimSpace(model.AsString(l.AdditionalData.Nested(strings.Split(p, ".")...)))
			if !IsMissing(v) {
				return v
			}
		}
		return ""
	}
}

// joined combines several keys, e.g. city and state, when all are present.
func joined(sep string, names ...string) Accessor {
	return func(l *model.Lead) string {
		parts := make([]string, 0, len(names))
		for _, n := range names {
			v := l.AdditionalData.String(n)
			if IsMissing(v) {
				return ""
			}
			parts = append(parts, v)
		}
		return strings.Join(parts, sep)
	}
}

// freeTextKeys hold unstructured prose that may mention a field in passing.
var freeTextKeys = []string{"summary", "headline", "description", "bio", "about", "notes"}

// pattern scans the free-text keys (or a text bag) with re and returns the
// first submatch group, or the whole match when re has no groups.
func pattern(re *regexp.Regexp) Accessor {
	return func(l *model.Lead) string {
		texts := make([]string, 0, len(freeTextKeys)+1)
		if l.AdditionalData.IsText() {
			texts = append(texts, l.AdditionalData.Text())
		}
		for _, k := range freeTextKeys {
			if v := l.AdditionalData.String(k); v != "" {
				texts = append(texts, v)
			}
		}
		for _, t := range texts {
			m := re.FindStringSubmatch(t)
			if m == nil {
				continue
			}
			if len(m) > 1 {
				return strings.TrimSpace(m[1])
			}
			return strings.TrimSpace(m[0])
		}
		return ""
	}
}

var (
	cityStateRe      = regexp.MustCompile(`\b([A-Z][a-zA-Z.'-]+(?: [A-Z][a-zA-Z.'-]+)*, [A-Z]{2})\b`)
	personLinkedInRe = regexp.MustCompile(`https?://(?:[a-z]{2,3}\.)?linkedin\.com/in/[A-Za-z0-9_%-]+/?`)
	orgLinkedInRe    = regexp.MustCompile(`https?://(?:[a-z]{2,3}\.)?linkedin\.com/company/[A-Za-z0-9_%-]+/?`)
)

var chains = map[Field]Chain{
	FieldName: {
		func(l *model.Lead) string { return l.Name },
		key("full_name", "name"),
		joined(" ", "first_name", "last_name"),
	},
	FieldTitle: {
		func(l *model.Lead) string { return l.Title },
		key("title", "job_title", "position", "headline_title"),
	},
	FieldEmail: {
		func(l *model.Lead) string { return l.Email },
		key("email", "work_email", "email_address"),
	},
	FieldCompany: {
		func(l *model.Lead) string { return l.Company },
		key("company_name", "companyName", "company", "organization_name", "organization", "employer"),
		nested("organization.name", "company.name"),
	},
	FieldIndustry: {
		func(l *model.Lead) string { return l.Industry },
		key("industry", "company_industry", "organization_industry", "sector", "vertical"),
		nested("organization.industry", "company.industry"),
	},
	FieldLocation: {
		func(l *model.Lead) string { return l.Location },
		key("location", "person_location", "formatted_address", "address", "headquarters"),
		joined(", ", "city", "state"),
		nested("organization.location", "organization.city"),
		pattern(cityStateRe),
	},
	FieldPhone: {
		func(l *model.Lead) string { return l.Phone },
		key("phone", "phone_number", "phoneNumber", "mobile_phone", "direct_phone",
			"work_phone", "sanitized_phone", "company_phone", "organization_phone"),
		nested("phone_numbers.0.sanitized_number", "phone_numbers.0.raw_number", "organization.phone"),
	},
	FieldLinkedIn: {
		func(l *model.Lead) string { return l.LinkedinURL },
		key("linkedin_url", "linkedinUrl", "linkedin", "linkedin_profile", "person_linkedin_url"),
		pattern(personLinkedInRe),
	},
	FieldCompanySize: {
		func(l *model.Lead) string { return l.CompanySize },
		key("company_size", "employee_count", "employees", "estimated_num_employees",
			"num_employees", "organization_size", "headcount"),
		nested("organization.estimated_num_employees", "organization.employee_count"),
	},
	FieldWebsite: {
		key("website", "company_website", "website_url", "organization_website_url", "domain"),
		nested("organization.website_url", "organization.primary_domain"),
	},
	FieldCompanyLinkedIn: {
		key("company_linkedin_url", "organization_linkedin_url", "linkedin_company_url"),
		nested("organization.linkedin_url"),
		pattern(orgLinkedInRe),
	},
}
