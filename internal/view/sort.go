package view

import (
	"sort"
	"strings"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resolve"
)

// SortKey names a sortable column.
type SortKey string

const (
	KeyName        SortKey = "name"
	KeyTitle       SortKey = "title"
	KeyCompany     SortKey = "company"
	KeyEmail       SortKey = "email"
	KeyPhone       SortKey = "phone"
	KeyLocation    SortKey = "location"
	KeyIndustry    SortKey = "industry"
	KeyCompanySize SortKey = "company_size"
	KeyLinkedIn    SortKey = "linkedin_url"
	KeyScore       SortKey = "score"
)

var sortFields = map[SortKey]resolve.Field{
	KeyName:        resolve.FieldName,
	KeyTitle:       resolve.FieldTitle,
	KeyCompany:     resolve.FieldCompany,
	KeyEmail:       resolve.FieldEmail,
	KeyPhone:       resolve.FieldPhone,
	KeyLocation:    resolve.FieldLocation,
	KeyIndustry:    resolve.FieldIndustry,
	KeyCompanySize: resolve.FieldCompanySize,
	KeyLinkedIn:    resolve.FieldLinkedIn,
}

// ParseSortKey validates a column name.
func ParseSortKey(s string) (SortKey, bool) {
	k := SortKey(strings.ToLower(strings.TrimSpace(s)))
	if k == KeyScore {
		return k, true
	}
	_, ok := sortFields[k]
	return k, ok
}

// Direction is the order of the active sort column.
type Direction string

const (
	DirNone Direction = ""
	DirAsc  Direction = "asc"
	DirDesc Direction = "desc"
)

// Sort is the single active (key, direction) pair. The zero value means
// insertion order.
type Sort struct {
	Key       SortKey   `json:"key,omitempty"`
	Direction Direction `json:"direction,omitempty"`
}

// Active reports whether a column is being sorted.
func (s Sort) Active() bool {
	return s.Key != "" && (s.Direction == DirAsc || s.Direction == DirDesc)
}

// Toggle returns the state after clicking the header for key: the same
// column cycles asc → desc → none, a different column starts at asc.
func (s Sort) Toggle(key SortKey) Sort {
	if !s.Active() || s.Key != key {
		return Sort{Key: key, Direction: DirAsc}
	}
	if s.Direction == DirAsc {
		return Sort{Key: key, Direction: DirDesc}
	}
	return Sort{}
}

type sortRow struct {
	lead    model.Lead
	missing bool
	text    string
	num     float64
}

// Sorted returns leads ordered by s. Missing values sort after present ones
// ascending and before them descending; ties keep their original order.
// An inactive sort returns leads unchanged.
func Sorted(leads []model.Lead, s Sort) []model.Lead {
	if !s.Active() {
		return leads
	}

	rows := make([]sortRow, len(leads))
	for i := range leads {
		rows[i] = keyFor(&leads[i], s.Key)
	}

	desc := s.Direction == DirDesc
	numeric := s.Key == KeyScore
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.missing || b.missing {
			if a.missing == b.missing {
				return false
			}
			if desc {
				return a.missing
			}
			return b.missing
		}
		var c int
		if numeric {
			switch {
			case a.num < b.num:
				c = -1
			case a.num > b.num:
				c = 1
			}
		} else {
			c = strings.Compare(a.text, b.text)
		}
		if desc {
			return c > 0
		}
		return c < 0
	})

	out := make([]model.Lead, len(rows))
	for i := range rows {
		out[i] = rows[i].lead
	}
	return out
}

func keyFor(l *model.Lead, key SortKey) sortRow {
	row := sortRow{lead: *l}
	if key == KeyScore {
		if l.Score == nil {
			row.missing = true
		} else {
			row.num = float64(*l.Score)
		}
		return row
	}
	field, ok := sortFields[key]
	if !ok {
		row.missing = true
		return row
	}
	v := resolve.Value(l, field)
	if v == "" {
		row.missing = true
		return row
	}
	row.text = fold(v)
	return row
}
