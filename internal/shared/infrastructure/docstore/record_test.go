package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_Matches(t *testing.T) {
	rec := Record{"id": "inv_1", "attemptCount": float64(2), "status": "open"}

	assert.True(t, rec.Matches(Record{"id": "inv_1"}))
	assert.True(t, rec.Matches(Record{"attemptCount": 2, "status": "open"}))
	assert.False(t, rec.Matches(Record{"status": "paid"}))
	assert.False(t, rec.Matches(Record{"missing": "x"}))
	assert.True(t, rec.Matches(nil))
}

func TestRecord_MergeKeepsIDAndOriginal(t *testing.T) {
	rec := Record{"id": "sub_1", "status": "active", "metadata": map[string]any{"a": "1"}}

	merged := rec.Merge(Record{"id": "other", "status": "past_due"})

	assert.Equal(t, "sub_1", merged.ID())
	assert.Equal(t, "past_due", merged["status"])
	assert.Equal(t, "active", rec["status"])

	merged["metadata"].(map[string]any)["a"] = "2"
	assert.Equal(t, "1", rec["metadata"].(map[string]any)["a"])
}

func TestEncodeDecode(t *testing.T) {
	type invoice struct {
		ID           string `json:"id"`
		AttemptCount int    `json:"attemptCount"`
	}

	rec, err := Encode(invoice{ID: "inv_1", AttemptCount: 3})
	require.NoError(t, err)
	assert.Equal(t, "inv_1", rec.ID())
	assert.Equal(t, float64(3), rec["attemptCount"])

	var out invoice
	require.NoError(t, Decode(rec, &out))
	assert.Equal(t, 3, out.AttemptCount)
}

func TestValidateRecords(t *testing.T) {
	assert.NoError(t, validateRecords([]Record{{"id": "a"}, {"id": "b"}}))
	assert.ErrorIs(t, validateRecords([]Record{{"amount": 1}}), ErrInvalidRecord)
	assert.ErrorIs(t, validateRecords([]Record{{"id": "a"}, {"id": "a"}}), ErrInvalidRecord)
}
