package nodeconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// hashLength is the number of hex characters kept from the digest. Sixteen
// is plenty to tell snapshots apart and keeps the column readable.
const hashLength = 16

// Hash returns the canonical content hash of a config document. Two
// documents with the same keys and values hash identically regardless of
// key order or formatting in the source YAML.
func Hash(doc map[string]any) string {
	sum := sha256.Sum256([]byte(Canonicalize(doc)))
	return hex.EncodeToString(sum[:])[:hashLength]
}

// Canonicalize renders a document with keys sorted at every level. The YAML
// library preserves input order, so hashing needs its own deterministic
// rendering.
func Canonicalize(doc map[string]any) string {
	var b strings.Builder
	writeValue(&b, doc, 0)
	return b.String()
}

func writeValue(b *strings.Builder, value any, depth int) {
	indent := strings.Repeat("  ", depth)

	switch v := value.(type) {
	case map[string]any:
		if len(v) == 0 {
			b.WriteString(indent + "{}\n")
			return
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if isScalar(v[k]) {
				fmt.Fprintf(b, "%s%s: %s\n", indent, k, renderScalar(v[k]))
			} else {
				fmt.Fprintf(b, "%s%s:\n", indent, k)
				writeValue(b, v[k], depth+1)
			}
		}

	case map[any]any:
		// Older YAML decoders produce interface-keyed maps.
		normalized := make(map[string]any, len(v))
		for k, val := range v {
			normalized[fmt.Sprint(k)] = val
		}
		writeValue(b, normalized, depth)

	case []any:
		if len(v) == 0 {
			b.WriteString(indent + "[]\n")
			return
		}
		for _, item := range v {
			if isScalar(item) {
				fmt.Fprintf(b, "%s- %s\n", indent, renderScalar(item))
			} else {
				fmt.Fprintf(b, "%s-\n", indent)
				writeValue(b, item, depth+1)
			}
		}

	default:
		fmt.Fprintf(b, "%s%s\n", indent, renderScalar(v))
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case map[string]any, map[any]any, []any:
		return false
	default:
		return true
	}
}

func renderScalar(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%v", v)
}
