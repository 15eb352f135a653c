package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"keyword-engine/internal/models"
)

// Key derives a deterministic cache key from a data type, a primary text
// input, and secondary parameters. Inputs are canonicalized (lower-cased,
// whitespace-collapsed primary text; stable-sorted parameters) so two
// logically identical requests resolve to the same key regardless of
// parameter order. The data type prefixes the hash so an entry's pipeline
// stage is recoverable from its key alone.
func Key(dt models.DataType, primary string, params map[string]string) string {
	h := sha256.New()
	h.Write([]byte(canonicalize(primary)))

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(strings.ToLower(strings.TrimSpace(k))))
		h.Write([]byte{'='})
		h.Write([]byte(canonicalize(params[k])))
	}

	return string(dt) + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}

// StageOf returns the pipeline stage encoded in a key's data-type prefix,
// or -1 for malformed keys.
func StageOf(key string) int {
	idx := strings.IndexByte(key, ':')
	if idx <= 0 {
		return -1
	}
	return models.DataType(key[:idx]).Stage()
}

func canonicalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
