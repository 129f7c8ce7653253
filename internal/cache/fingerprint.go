package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Fingerprint builds a deterministic cache key from the request fields that
// determine the generated output. Fields with empty values are dropped before
// hashing, so an absent field and a missing field produce the same key. Key
// order never matters: pairs are serialized sorted by field name.
func Fingerprint(prefix string, fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		writeJSONString(&b, name)
		b.WriteByte(':')
		writeJSONString(&b, fields[name])
	}
	b.WriteByte('}')

	sum := sha256.Sum256([]byte(b.String()))
	return prefix + hex.EncodeToString(sum[:])
}

func writeJSONString(b *strings.Builder, s string) {
	enc, _ := json.Marshal(s)
	b.Write(enc)
}
