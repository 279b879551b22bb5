package view

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/model"
)

// Query is a filter set plus the active sort.
type Query struct {
	Filters Filters `json:"filters"`
	Sort    Sort    `json:"sort"`
}

// Run filters then sorts leads.
func Run(leads []model.Lead, q Query) []model.Lead {
	return Sorted(Apply(leads, q.Filters), q.Sort)
}

// ParseQuery reads filters and sort from URL parameters such as
// ?title=vp&has_email=true&score_min=40&sort=score&dir=desc.
func ParseQuery(v url.Values) (Query, error) {
	q := Query{
		Filters: Filters{
			Name:     v.Get("name"),
			Title:    v.Get("title"),
			Company:  v.Get("company"),
			Email:    v.Get("email"),
			Location: v.Get("location"),
			Industry: v.Get("industry"),
		},
	}

	var err error
	if q.Filters.HasEmail, err = parseBool(v, "has_email"); err != nil {
		return Query{}, err
	}
	if q.Filters.HasPhone, err = parseBool(v, "has_phone"); err != nil {
		return Query{}, err
	}
	if q.Filters.ScoreMin, err = parseFloat(v, "score_min"); err != nil {
		return Query{}, err
	}
	if q.Filters.ScoreMax, err = parseFloat(v, "score_max"); err != nil {
		return Query{}, err
	}

	if raw := strings.TrimSpace(v.Get("sort")); raw != "" {
		key, ok := ParseSortKey(raw)
		if !ok {
			return Query{}, eris.Errorf("view: unknown sort key %q", raw)
		}
		dir := Direction(strings.ToLower(strings.TrimSpace(v.Get("dir"))))
		switch dir {
		case DirNone:
			dir = DirAsc
		case DirAsc, DirDesc:
		default:
			return Query{}, eris.Errorf("view: unknown sort direction %q", dir)
		}
		q.Sort = Sort{Key: key, Direction: dir}
	}
	return q, nil
}

func parseBool(v url.Values, name string) (*bool, error) {
	raw := strings.TrimSpace(v.Get(name))
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "view: parse %s", name)
	}
	return &b, nil
}

func parseFloat(v url.Values, name string) (*float64, error) {
	raw := strings.TrimSpace(v.Get(name))
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "view: parse %s", name)
	}
	return &f, nil
}
