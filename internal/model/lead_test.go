package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLead_UnmarshalLooseRow(t *testing.T) {
	t.Parallel()

	var l Lead
	err := json.Unmarshal([]byte(`{
		"id": 77,
		"job_id": "job-1",
		"name": "Ada Lovelace",
		"title": null,
		"company_size": 1500,
		"score": 81.6,
		"additional_data": "{\"funding\":\"Series B\"}"
	}`), &l)
	require.NoError(t, err)

	assert.Equal(t, "77", l.ID)
	assert.Equal(t, "job-1", l.JobID)
	assert.Equal(t, "", l.Title)
	assert.Equal(t, "1500", l.CompanySize)
	require.NotNil(t, l.Score)
	assert.Equal(t, 82, *l.Score)
	assert.Equal(t, "Series B", l.AdditionalData.String("funding"))
}

func TestLead_MissingScore(t *testing.T) {
	t.Parallel()

	var l Lead
	require.NoError(t, json.Unmarshal([]byte(`{"id":"1","name":"x","score":"n/a"}`), &l))
	assert.Nil(t, l.Score)
	assert.True(t, l.AdditionalData.IsZero())
}

func TestLead_RoundTrip(t *testing.T) {
	t.Parallel()

	in := Lead{
		ID:             "l1",
		JobID:          "j1",
		Name:           "Grace",
		Email:          "grace@example.com",
		AdditionalData: NewExtraData("headline", "Builder"),
	}.WithScore(55)

	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out Lead
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

func TestLead_NotAnObject(t *testing.T) {
	t.Parallel()

	var l Lead
	assert.Error(t, json.Unmarshal([]byte(`"just a string"`), &l))
}
