// Package id allocates game object identifiers.
//
// An identifier is the kind initial, the shard tag and 26 characters of
// base32 (RFC 4648, no padding) encoded UUIDv4 bytes. The first character
// always identifies the object kind.
package id

import (
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// New returns a fresh identifier for an object of the given kind initial
// allocated on the given shard.
func New(kind byte, shard string) string {
	u := uuid.New()
	var b strings.Builder
	b.Grow(1 + len(shard) + 26)
	b.WriteByte(kind)
	b.WriteString(strings.ToUpper(shard))
	b.WriteString(encoding.EncodeToString(u[:]))
	return b.String()
}

// Kind returns the kind initial of an identifier, or 0 for an empty one.
func Kind(id string) byte {
	if id == "" {
		return 0
	}
	return id[0]
}
