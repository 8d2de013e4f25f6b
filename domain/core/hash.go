package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Short returns the first 12 hex characters, enough to tell runs apart in logs
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// ConfigFingerprint identifies a sampler configuration together with its seed
type ConfigFingerprint Hash

func (h ConfigFingerprint) String() string { return Hash(h).String() }

// ComputeConfigFingerprint hashes the settings map in key order so that
// identical configurations produce identical fingerprints.
func ComputeConfigFingerprint(settings map[string]interface{}, seed uint64) ConfigFingerprint {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var data strings.Builder
	for _, key := range keys {
		data.WriteString(key)
		data.WriteByte('=')
		data.WriteString(fmt.Sprintf("%v", settings[key]))
		data.WriteByte(';')
	}
	data.WriteString(fmt.Sprintf("seed=%d", seed))

	return ConfigFingerprint(NewHash([]byte(data.String())))
}
