package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueIsDeterministic(t *testing.T) {
	r := NewRegistry("pepper")
	created := time.Date(2026, 3, 14, 10, 0, 0, 123456789, time.UTC)

	a := r.Issue(7, 42, created)
	b := r.Issue(7, 42, created.In(time.FixedZone("X", 3600)))

	assert.Equal(t, a, b)
	assert.True(t, WellFormed(a))
	assert.NotEqual(t, a, r.Issue(7, 43, created))
	assert.NotEqual(t, a, r.Issue(7, 42, created.Add(time.Nanosecond)))
}

func TestSaltChangesDigest(t *testing.T) {
	created := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	assert.NotEqual(t, NewRegistry("a").Issue(1, 1, created), NewRegistry("b").Issue(1, 1, created))
}

func TestTypedTokensDependOnKind(t *testing.T) {
	r := NewRegistry("")
	chunk := r.IssueTyped(5, KindBulkBooking)
	sub := r.IssueTyped(5, KindSubBulkBooking)

	assert.NotEqual(t, chunk, sub)
	assert.True(t, r.Matches(chunk, 5, KindBulkBooking))
	assert.False(t, r.Matches(chunk, 5, KindSubBulkBooking))
}

func TestResolveBruteForce(t *testing.T) {
	r := NewRegistry("")
	candidates := []Candidate{
		{ID: 1, Kind: KindBulkBooking},
		{ID: 2, Kind: KindBulkBooking},
		{ID: 1, Kind: KindSubBulkBooking},
		{ID: 9, Kind: KindSubBulkBooking},
	}

	got, ok := r.Resolve(r.IssueTyped(9, KindSubBulkBooking), candidates)
	require.True(t, ok)
	assert.Equal(t, Candidate{ID: 9, Kind: KindSubBulkBooking}, got)

	_, ok = r.Resolve(r.IssueTyped(3, KindBulkBooking), candidates)
	assert.False(t, ok)

	_, ok = r.Resolve("not-a-token", candidates)
	assert.False(t, ok)
}

func TestWellFormed(t *testing.T) {
	assert.False(t, WellFormed(""))
	assert.False(t, WellFormed("ABCDEF"))
	assert.False(t, WellFormed(string(make([]byte, Length))))
}
