package model

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
)

// Lead is one discovered prospect belonging to a job. Leads are append-only.
type Lead struct {
	ID             string    `json:"id"`
	JobID          string    `json:"job_id"`
	Name           string    `json:"name"`
	Title          string    `json:"title,omitempty"`
	Company        string    `json:"company,omitempty"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	LinkedinURL    string    `json:"linkedin_url,omitempty"`
	Location       string    `json:"location,omitempty"`
	Industry       string    `json:"industry,omitempty"`
	CompanySize    string    `json:"company_size,omitempty"`
	Score          *int      `json:"score"`
	AdditionalData ExtraData `json:"additional_data"`
}

// leadRow mirrors Lead with untyped scalars so that numbers, strings and
// nulls from the remote side all decode.
type leadRow struct {
	ID             any       `json:"id"`
	JobID          any       `json:"job_id"`
	Name           any       `json:"name"`
	Title          any       `json:"title"`
	Company        any       `json:"company"`
	Email          any       `json:"email"`
	Phone          any       `json:"phone"`
	LinkedinURL    any       `json:"linkedin_url"`
	Location       any       `json:"location"`
	Industry       any       `json:"industry"`
	CompanySize    any       `json:"company_size"`
	Score          any       `json:"score"`
	AdditionalData ExtraData `json:"additional_data"`
}

// UnmarshalJSON decodes a lead row tolerantly. Only a payload that is not
// a JSON object is an error.
func (l *Lead) UnmarshalJSON(data []byte) error {
	var row leadRow
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&row); err != nil {
		return eris.Wrap(err, "model: decode lead")
	}

	*l = Lead{
		ID:             AsString(row.ID),
		JobID:          AsString(row.JobID),
		Name:           AsString(row.Name),
		Title:          AsString(row.Title),
		Company:        AsString(row.Company),
		Email:          AsString(row.Email),
		Phone:          AsString(row.Phone),
		LinkedinURL:    AsString(row.LinkedinURL),
		Location:       AsString(row.Location),
		Industry:       AsString(row.Industry),
		CompanySize:    AsString(row.CompanySize),
		AdditionalData: row.AdditionalData,
	}
	if n, ok := AsNumber(row.Score); ok {
		s := int(math.Round(n))
		l.Score = &s
	}
	return nil
}

// WithScore returns a copy of l carrying score.
func (l Lead) WithScore(score int) Lead {
	l.Score = &score
	return l
}
