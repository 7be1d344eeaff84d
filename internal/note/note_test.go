package note

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCreateRequest_Validate(t *testing.T) {
	assert.True(t, CreateRequest{Body: "Replaced filter"}.Validate().Empty())
	assert.Contains(t, CreateRequest{Body: "   "}.Validate(), "body")
	assert.Contains(t, CreateRequest{Body: strings.Repeat("x", maxBodyLength+1)}.Validate(), "body")
}

func TestEntries(t *testing.T) {
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	got := Entries([]Note{{ID: "n1", Body: "Customer absent", Author: "Tess", CreatedAt: ts}})

	assert.Len(t, got, 1)
	assert.Equal(t, "note", got[0].Type)
	assert.Equal(t, "Customer absent", got[0].Description)
	assert.Equal(t, "Tess", got[0].Actor)
	assert.Equal(t, ts, got[0].Timestamp)
}
