// Package fingerprint computes deterministic, non-cryptographic digests of
// text used to decide whether derived artifacts are still current.
package fingerprint

import (
	"strconv"
	"strings"
)

// Delimiter separates parts before hashing so ("ab", "c") and ("a", "bc")
// produce different digests.
const Delimiter = "\x1f"

// Hash is a 32-bit signed rolling hash.
type Hash int32

// Of fingerprints the concatenation of parts. Never fails.
func Of(parts ...string) Hash {
	var h int32
	for _, r := range strings.Join(parts, Delimiter) {
		h = (h << 5) - h + int32(r)
	}
	return Hash(h)
}

// String renders the hash the way it is persisted.
func (h Hash) String() string {
	return strconv.FormatInt(int64(h), 10)
}

// Parse reads a persisted hash.
func Parse(value string) (Hash, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
	if err != nil {
		return 0, err
	}
	return Hash(n), nil
}
