package scorer

import (
	"regexp"
	"strings"

	"github.com/sells-group/prospect-cli/internal/config"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resolve"
)

// Breakdown holds the six independently capped sub-scores.
type Breakdown struct {
	Title            int `json:"title"`
	Contact          int `json:"contact"`
	CompanySize      int `json:"company_size"`
	Industry         int `json:"industry"`
	Growth           int `json:"growth"`
	DataCompleteness int `json:"data_completeness"`
}

// Total returns the clamped sum of the sub-scores.
func (b Breakdown) Total() int {
	return clamp(b.Title+b.Contact+b.CompanySize+b.Industry+b.Growth+b.DataCompleteness, 0, 100)
}

// Result is the outcome of scoring one lead.
type Result struct {
	Score     int       `json:"score"`
	Breakdown Breakdown `json:"breakdown"`
	Tier      Tier      `json:"tier"`
}

// LeadScorer scores leads with a fixed set of factor caps.
type LeadScorer struct {
	cfg config.ScoringConfig
}

// New creates a LeadScorer. Callers should run ValidateConfig first.
func New(cfg config.ScoringConfig) *LeadScorer {
	return &LeadScorer{cfg: cfg}
}

var defaultScorer = New(DefaultScoringConfig())

// Score scores l with the default caps.
func Score(l *model.Lead) Result {
	return defaultScorer.Score(l)
}

// Score computes the breakdown, total and tier for l. A nil lead scores 0.
func (s *LeadScorer) Score(l *model.Lead) Result {
	if l == nil {
		l = &model.Lead{}
	}
	b := Breakdown{
		Title:            capAt(ScoreTitle(resolve.Value(l, resolve.FieldTitle)), s.cfg.TitleCap),
		Contact:          capAt(ScoreContact(l), s.cfg.ContactCap),
		CompanySize:      capAt(ScoreCompanySize(resolve.Value(l, resolve.FieldCompanySize)), s.cfg.CompanySizeCap),
		Industry:         capAt(ScoreIndustry(resolve.Value(l, resolve.FieldIndustry)), s.cfg.IndustryCap),
		Growth:           capAt(ScoreGrowth(l.AdditionalData.Flatten()), s.cfg.GrowthCap),
		DataCompleteness: capAt(ScoreDataCompleteness(l), s.cfg.DataCompletenessCap),
	}
	total := b.Total()
	return Result{Score: total, Breakdown: b, Tier: TierFor(total)}
}

// Apply returns a copy of leads with each Score set by s.
func (s *LeadScorer) Apply(leads []model.Lead) []model.Lead {
	out := make([]model.Lead, len(leads))
	for i := range leads {
		out[i] = leads[i].WithScore(s.Score(&leads[i]).Score)
	}
	return out
}

var (
	// The VP check must run before the owner check: "vice president"
	// contains "president".
	vpRe       = regexp.MustCompile(`\b(?:[se]?vp|vice[\s-]+president)\b|\bv\.p\.`)
	ownerRe    = regexp.MustCompile(`\b(?:ceo|chief executive|owner|founder|president)\b`)
	cSuiteRe   = regexp.MustCompile(`\b(?:cto|cmo|cfo|cso)\b`)
	directorRe = regexp.MustCompile(`\b(?:director|manager|senior|lead)`)
	juniorRe   = regexp.MustCompile(`\b(?:associate|junior|intern|specialist|coordinator|assistant)`)
)

// ScoreTitle scores seniority from 0 to 25.
func ScoreTitle(title string) int {
	t := strings.ToLower(strings.TrimSpace(title))
	switch {
	case t == "":
		return 0
	case vpRe.MatchString(t):
		return 15
	case ownerRe.MatchString(t):
		return 25
	case cSuiteRe.MatchString(t), strings.Contains(t, "chief") && !strings.Contains(t, "director"):
		return 20
	case directorRe.MatchString(t):
		return 10
	case juniorRe.MatchString(t):
		return 5
	default:
		return 0
	}
}

// ScoreContact scores reachability from 0 to 15.
func ScoreContact(l *model.Lead) int {
	email := resolve.Has(l, resolve.FieldEmail)
	phone := resolve.Has(l, resolve.FieldPhone)
	switch {
	case email && phone:
		return 15
	case email:
		return 10
	case phone:
		return 5
	default:
		return 0
	}
}

var (
	sizeNumberRe = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*(k\b)?`)
	enterpriseRe = regexp.MustCompile(`\benterprise\b`)
	midMarketRe  = regexp.MustCompile(`\bmid[\s-]?market\b`)
	smallRe      = regexp.MustCompile(`\b(?:small|startup|start-up)\b`)
	microRe      = regexp.MustCompile(`\bmicro\b`)
)

// ScoreCompanySize scores headcount from 0 to 20. Numbers win over keywords;
// for a range such as "51-200" the lower bound is used.
func ScoreCompanySize(size string) int {
	s := strings.ToLower(strings.TrimSpace(size))
	if resolve.IsMissing(s) {
		return 0
	}

	if m := sizeNumberRe.FindStringSubmatch(s); m != nil {
		if n, ok := model.AsNumber(m[1]); ok {
			if m[2] != "" {
				n *= 1000
			}
			switch {
			case n >= 1000:
				return 20
			case n >= 100:
				return 15
			case n >= 20:
				return 10
			case n >= 1:
				return 5
			}
		}
	}

	switch {
	case enterpriseRe.MatchString(s):
		return 20
	case midMarketRe.MatchString(s):
		return 15
	case smallRe.MatchString(s):
		return 10
	case microRe.MatchString(s):
		return 5
	default:
		return 0
	}
}

var (
	highIndustries   = []string{"technology", "software", "saas", "fintech", "finance", "financial", "banking"}
	mediumIndustries = []string{"healthcare", "manufacturing", "retail", "e-commerce", "ecommerce"}
	lowIndustries    = []string{"non-profit", "nonprofit", "government", "education"}
)

// ScoreIndustry scores industry fit from 0 to 15.
func ScoreIndustry(industry string) int {
	s := strings.ToLower(strings.TrimSpace(industry))
	if s == "" {
		return 0
	}
	switch {
	case containsAny(s, highIndustries):
		return 15
	case containsAny(s, mediumIndustries):
		return 10
	case containsAny(s, lowIndustries):
		return 5
	default:
		return 0
	}
}

var (
	strongGrowthRe = regexp.MustCompile(`\b(?:funding|funded|raised|investment|investors?|venture[- ]backed|series [a-c]|rapid(?:ly)? grow(?:th|ing)|hyper-?growth|fast[- ]growing)\b`)
	growingRe      = regexp.MustCompile(`\b(?:growing|growth|hiring|expan(?:ding|sion|ded)|scaling)\b`)
	establishedRe  = regexp.MustCompile(`\b(?:established|mature|fortune 500|industry leader)\b`)
)

// ScoreGrowth scores growth signals in unstructured text from 0 to 10.
func ScoreGrowth(text string) int {
	t := strings.ToLower(text)
	switch {
	case strings.TrimSpace(t) == "":
		return 0
	case strongGrowthRe.MatchString(t):
		return 10
	case growingRe.MatchString(t):
		return 7
	case establishedRe.MatchString(t):
		return 5
	default:
		return 0
	}
}

// completenessFields are counted toward data completeness when present.
var completenessFields = []func(l *model.Lead) string{
	func(l *model.Lead) string { return l.Name },
	func(l *model.Lead) string { return l.Email },
	func(l *model.Lead) string { return l.Phone },
	func(l *model.Lead) string { return l.Title },
	func(l *model.Lead) string { return l.Company },
	func(l *model.Lead) string { return l.Location },
	func(l *model.Lead) string { return l.Industry },
	func(l *model.Lead) string { return l.LinkedinURL },
	func(l *model.Lead) string { return l.CompanySize },
	func(l *model.Lead) string { return resolve.Value(l, resolve.FieldWebsite) },
	func(l *model.Lead) string { return resolve.Value(l, resolve.FieldCompanyLinkedIn) },
}

// textBagPoints is what a free-text enrichment bag is worth.
const textBagPoints = 2

// CompletenessPoints counts populated fields plus non-empty extra keys.
func CompletenessPoints(l *model.Lead) int {
	points := 0
	for _, get := range completenessFields {
		if !resolve.IsMissing(get(l)) {
			points++
		}
	}
	if l.AdditionalData.IsText() {
		points += textBagPoints
	} else {
		points += l.AdditionalData.NonEmptyCount()
	}
	return points
}

// ScoreDataCompleteness scores record richness from 0 to 15. A lead with
// only a title and an email already earns the lowest band.
func ScoreDataCompleteness(l *model.Lead) int {
	switch p := CompletenessPoints(l); {
	case p >= 8:
		return 15
	case p >= 5:
		return 10
	case p >= 2:
		return 5
	default:
		return 0
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func capAt(v, limit int) int {
	if limit < 0 {
		limit = 0
	}
	return clamp(v, 0, limit)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
