// Package sha256 derives stable keys from article URLs.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Hasher produces hex SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// URLKey returns the digest of a normalized URL. Scheme and host are
// lowercased and the fragment dropped; path and query are kept verbatim so
// the key follows the same equality as the articles.url unique constraint
// for canonical links.
func (h *Hasher) URLKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		u.Scheme = strings.ToLower(u.Scheme)
		u.Host = strings.ToLower(u.Host)
		u.Fragment = ""
		raw = u.String()
	}
	return h.Hash([]byte(raw))
}
