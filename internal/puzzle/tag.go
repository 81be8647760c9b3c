package puzzle

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// TagIDLen is the length of an ISO15693 inventory UID.
const TagIDLen = 8

// TagID is an opaque 8-byte tag identifier.
type TagID [TagIDLen]byte

// NoTag is the all-zero sentinel for "no tag present".
var NoTag TagID

// ParseTagID parses a 16 digit hex string. Spaces, colons and dashes
// between byte pairs are ignored, so "3C 33 13 66 08 01 04 E0" is accepted.
func ParseTagID(s string) (TagID, error) {
	var id TagID
	clean := strings.NewReplacer(" ", "", ":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(clean) != TagIDLen*2 {
		return id, fmt.Errorf("tag id %q: want %d hex digits, got %d", s, TagIDLen*2, len(clean))
	}
	if _, err := hex.Decode(id[:], []byte(clean)); err != nil {
		return id, fmt.Errorf("tag id %q: %w", s, err)
	}
	return id, nil
}

// MustParseTagID is like ParseTagID but panics on error.
// Use it only for compile-time constants.
func MustParseTagID(s string) TagID {
	id, err := ParseTagID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IsAbsent reports whether id is the NoTag sentinel.
func (id TagID) IsAbsent() bool {
	return id == NoTag
}

// String renders the id as uppercase hex, or "---" when absent.
func (id TagID) String() string {
	if id.IsAbsent() {
		return "---"
	}
	return strings.ToUpper(hex.EncodeToString(id[:]))
}

// Observation is one reader's result for one cycle.
type Observation struct {
	Present bool
	ID      TagID
}

// Absent is the observation returned when a reader saw nothing or failed.
var Absent = Observation{}
