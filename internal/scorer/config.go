// Package scorer implements the six-factor lead scoring heuristic and the
// outreach tier derived from it.
package scorer

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/config"
)

// DefaultScoringConfig returns the standard factor caps. Caps sum to 100.
func DefaultScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		TitleCap:            25,
		ContactCap:          15,
		CompanySizeCap:      20,
		IndustryCap:         15,
		GrowthCap:           10,
		DataCompletenessCap: 15,
	}
}

// CapSum returns the sum of all factor caps.
func CapSum(c config.ScoringConfig) int {
	return c.TitleCap + c.ContactCap + c.CompanySizeCap +
		c.IndustryCap + c.GrowthCap + c.DataCompletenessCap
}

// ValidateConfig checks that a ScoringConfig is internally consistent.
func ValidateConfig(c config.ScoringConfig) error {
	var errs []string

	caps := []struct {
		name string
		v    int
	}{
		{"title_cap", c.TitleCap},
		{"contact_cap", c.ContactCap},
		{"company_size_cap", c.CompanySizeCap},
		{"industry_cap", c.IndustryCap},
		{"growth_cap", c.GrowthCap},
		{"data_completeness_cap", c.DataCompletenessCap},
	}
	for _, cp := range caps {
		if cp.v < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", cp.name))
		}
	}

	if sum := CapSum(c); sum != 100 {
		errs = append(errs, fmt.Sprintf("caps should sum to 100, got %d", sum))
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
