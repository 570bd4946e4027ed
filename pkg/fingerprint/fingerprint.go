// Package fingerprint derives cache keys from natural-language questions.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// separator joins key components. It is the ASCII unit separator, which
// never appears in typed questions or configuration ids.
const separator = "\x1f"

// Normalize canonicalizes a question: NFC composition, surrounding and
// repeated whitespace collapsed to single spaces, lowercase.
func Normalize(question string) string {
	q := norm.NFC.String(question)
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

// Key returns the 32-character hex cache key for a question asked against a
// configuration, optionally scoped to a table or collection. An empty scope is
// the unscoped key.
func Key(question, configID, scope string) string {
	var b strings.Builder
	b.WriteString(Normalize(question))
	b.WriteString(separator)
	b.WriteString(configID)
	if scope != "" {
		b.WriteString(separator)
		b.WriteString(scope)
	}
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Shard returns the directory prefix for a key.
func Shard(key string) string {
	if len(key) < 2 {
		return "00"
	}
	return key[:2]
}
