package cache

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint accumulates key parts into a stable 64-bit hash.
type Fingerprint struct {
	hasher *xxhash.Digest
}

// NewFingerprint returns an empty fingerprint.
func NewFingerprint() *Fingerprint {
	return &Fingerprint{hasher: xxhash.New()}
}

// WriteString adds one part to the fingerprint. Parts are length-prefixed so
// no choice of values can shift bytes between neighbouring parts.
func (f *Fingerprint) WriteString(value string) *Fingerprint {
	// WriteString always returns nil error
	_, _ = f.hasher.WriteString(strconv.Itoa(len(value)))
	_, _ = f.hasher.WriteString(":")
	_, _ = f.hasher.WriteString(value)
	return f
}

// WriteInt adds an integer part.
func (f *Fingerprint) WriteInt(value int) *Fingerprint {
	return f.WriteString(strconv.Itoa(value))
}

// WriteBool adds a boolean part.
func (f *Fingerprint) WriteBool(value bool) *Fingerprint {
	return f.WriteString(strconv.FormatBool(value))
}

// Sum64 returns the hash of everything written so far.
func (f *Fingerprint) Sum64() uint64 {
	return f.hasher.Sum64()
}

// Key renders the fingerprint as a cache key inside a namespace.
func (f *Fingerprint) Key(namespace string) string {
	return namespace + strconv.FormatUint(f.Sum64(), 16)
}
