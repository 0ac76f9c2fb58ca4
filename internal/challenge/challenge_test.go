package challenge

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var report = Snapshot{
	ID:           "p1",
	Title:        "Deliver report",
	Content:      "I will deliver by Friday",
	DeliveryDate: "2025-01-10",
	CreatorID:    "u1",
}

func TestDerive_Deterministic(t *testing.T) {
	assert.Equal(t, Derive(report), Derive(report))

	copied := report
	assert.Equal(t, Derive(report), Derive(copied))
}

func TestDerive_MatchesCanonicalForm(t *testing.T) {
	canonical := `{"id":"p1","title":"Deliver report","content":"I will deliver by Friday","deliveryDate":"2025-01-10","creatorId":"u1"}`
	sum := sha256.Sum256([]byte(canonical))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), Derive(report))
}

func TestDerive_Encoding(t *testing.T) {
	c := Derive(report)
	assert.Len(t, c, 43)
	assert.NotContains(t, c, "=")
	assert.NotContains(t, c, "+")
	assert.NotContains(t, c, "/")
}

func TestDerive_AnyFieldChangeDiverges(t *testing.T) {
	base := Derive(report)
	mutations := map[string]func(s *Snapshot){
		"id":           func(s *Snapshot) { s.ID = "p2" },
		"title":        func(s *Snapshot) { s.Title = "Deliver reports" },
		"content":      func(s *Snapshot) { s.Content = "I will deliver by Fridaz" },
		"deliveryDate": func(s *Snapshot) { s.DeliveryDate = "2025-01-11" },
		"creatorId":    func(s *Snapshot) { s.CreatorID = "u2" },
	}
	for field, mutate := range mutations {
		t.Run(field, func(t *testing.T) {
			s := report
			mutate(&s)
			assert.NotEqual(t, base, Derive(s))
		})
	}
}

func TestDerive_FieldBoundaries(t *testing.T) {
	// Moving a character between adjacent fields must not collide.
	a := Snapshot{ID: "p1", Title: "ab", Content: "c"}
	b := Snapshot{ID: "p1", Title: "a", Content: "bc"}
	require.NotEqual(t, Derive(a), Derive(b))
}

func TestDerive_InvalidUTF8(t *testing.T) {
	a := Snapshot{ID: "prm_1", Content: "owe \xff", CreatorID: "usr_1"}
	b := Snapshot{ID: "prm_1", Content: "owe \xfe", CreatorID: "usr_1"}

	assert.Error(t, a.Validate())
	assert.Empty(t, Derive(a))
	assert.Empty(t, Derive(b))
	assert.NoError(t, Snapshot{ID: "prm_1", Content: "owe €5"}.Validate())
}
