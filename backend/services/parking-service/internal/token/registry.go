// Package token issues the opaque one-way tokens printed on parking passes.
// Tokens are never decoded. Sessions are found by equality on a unique index;
// bulk tokens are classified by re-hashing known records and comparing.
package token

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/crypto/sha3"
)

// Kind classifies what a token addresses.
type Kind string

const (
	KindBooking        Kind = "booking"
	KindBilling        Kind = "billing"
	KindBulkBooking    Kind = "bulkbooking"
	KindSubBulkBooking Kind = "subbulkbooking"
)

// Length is the hex length of every token.
const Length = 64

// Candidate is a record a typed token may have been issued for.
type Candidate struct {
	ID   int64
	Kind Kind
}

// Registry derives tokens. The optional salt is mixed into every digest so tokens
// can't be recomputed from public identifiers alone.
type Registry struct {
	salt []byte
}

// NewRegistry builds a registry with the given salt (may be empty).
func NewRegistry(salt string) *Registry {
	return &Registry{salt: []byte(salt)}
}

// Issue derives a session token from the facility, subject and creation time.
func (r *Registry) Issue(facilityID, subjectID int64, createdAt time.Time) string {
	payload := "facility=" + strconv.FormatInt(facilityID, 10) +
		";subject=" + strconv.FormatInt(subjectID, 10) +
		";created=" + createdAt.UTC().Format(time.RFC3339Nano)
	return r.digest(payload)
}

// IssueTyped derives a token for a bulk record. The kind is part of the payload so
// the same id under different kinds yields different tokens.
func (r *Registry) IssueTyped(id int64, kind Kind) string {
	return r.digest(fmt.Sprintf(`{"id":%d,"type":%q}`, id, string(kind)))
}

// Matches reports whether tok was issued for (id, kind).
func (r *Registry) Matches(tok string, id int64, kind Kind) bool {
	want := r.IssueTyped(id, kind)
	return subtle.ConstantTimeCompare([]byte(want), []byte(tok)) == 1
}

// Resolve finds the candidate tok was issued for by recomputing each candidate's
// digest. Cost is linear in len(candidates).
func (r *Registry) Resolve(tok string, candidates []Candidate) (Candidate, bool) {
	if !WellFormed(tok) {
		return Candidate{}, false
	}
	for _, c := range candidates {
		if r.Matches(tok, c.ID, c.Kind) {
			return c, true
		}
	}
	return Candidate{}, false
}

// WellFormed reports whether tok has the shape of an issued token.
func WellFormed(tok string) bool {
	if len(tok) != Length {
		return false
	}
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func (r *Registry) digest(payload string) string {
	h := sha3.New256()
	h.Write(r.salt)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
