// Package view composes filter predicates and a single active sort over a
// lead set, resolving every field the same way it is displayed.
package view

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resolve"
)

// Filters holds the user's predicates. Zero values are inactive; every
// active predicate must match (AND).
type Filters struct {
	Name     string   `json:"name,omitempty"`
	Title    string   `json:"title,omitempty"`
	Company  string   `json:"company,omitempty"`
	Email    string   `json:"email,omitempty"`
	Location string   `json:"location,omitempty"`
	Industry string   `json:"industry,omitempty"`
	HasEmail *bool    `json:"has_email,omitempty"`
	HasPhone *bool    `json:"has_phone,omitempty"`
	ScoreMin *float64 `json:"score_min,omitempty"`
	ScoreMax *float64 `json:"score_max,omitempty"`
}

// IsEmpty reports whether no predicate is active.
func (f Filters) IsEmpty() bool {
	return len(f.predicates()) == 0
}

// titleStopwords are dropped from title queries.
var titleStopwords = map[string]bool{"and": true, "or": true, "&": true}

// fold case-folds s for comparison. A Caser is stateful, so each call gets
// its own.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

type predicate func(l *model.Lead) bool

func (f Filters) predicates() []predicate {
	var preds []predicate

	substring := func(query string, field resolve.Field) {
		q := fold(query)
		if q == "" {
			return
		}
		preds = append(preds, func(l *model.Lead) bool {
			return strings.Contains(fold(resolve.Value(l, field)), q)
		})
	}
	substring(f.Name, resolve.FieldName)
	substring(f.Company, resolve.FieldCompany)
	substring(f.Email, resolve.FieldEmail)
	substring(f.Location, resolve.FieldLocation)
	substring(f.Industry, resolve.FieldIndustry)

	if tokens := titleTokens(f.Title); len(tokens) > 0 {
		preds = append(preds, func(l *model.Lead) bool {
			title := fold(resolve.Value(l, resolve.FieldTitle))
			for _, tok := range tokens {
				if strings.Contains(title, tok) {
					return true
				}
			}
			return false
		})
	}

	presence := func(want *bool, field resolve.Field) {
		if want == nil {
			return
		}
		w := *want
		preds = append(preds, func(l *model.Lead) bool {
			return resolve.Has(l, field) == w
		})
	}
	presence(f.HasEmail, resolve.FieldEmail)
	presence(f.HasPhone, resolve.FieldPhone)

	if f.ScoreMin != nil {
		lo := *f.ScoreMin
		preds = append(preds, func(l *model.Lead) bool {
			return l.Score != nil && float64(*l.Score) >= lo
		})
	}
	if f.ScoreMax != nil {
		hi := *f.ScoreMax
		preds = append(preds, func(l *model.Lead) bool {
			return l.Score != nil && float64(*l.Score) <= hi
		})
	}
	return preds
}

// titleTokens splits a title query on non-alphanumeric runes and drops
// stopwords.
func titleTokens(query string) []string {
	q := fold(query)
	if q == "" {
		return nil
	}
	fields := strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if !titleStopwords[f] {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// Apply returns the leads matching every active predicate, in their
// original order. With no active predicate the input is returned as is.
func Apply(leads []model.Lead, f Filters) []model.Lead {
	preds := f.predicates()
	if len(preds) == 0 {
		return leads
	}
	out := make([]model.Lead, 0, len(leads))
	for i := range leads {
		if matchAll(&leads[i], preds) {
			out = append(out, leads[i])
		}
	}
	return out
}

func matchAll(l *model.Lead, preds []predicate) bool {
	for _, p := range preds {
		if !p(l) {
			return false
		}
	}
	return true
}
