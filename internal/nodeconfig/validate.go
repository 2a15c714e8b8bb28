// Package nodeconfig manages relay node configuration documents: validation,
// canonical hashing, diffing, and transactional apply with rollback.
package nodeconfig

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dan246/mtx-toolkit/internal/models"
)

// minTimeoutSeconds is the floor below which read/write timeouts are
// considered misconfigured for live media.
const minTimeoutSeconds = 5.0

// ValidationResult reports what a config document validation found.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Parse decodes a config document from YAML.
func Parse(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, models.ErrConfigYAMLRequired
	}
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return doc, nil
}

// Validate checks a config document's structure. The document must carry a
// paths mapping; each entry is either null (defaults) or a mapping whose
// source and runOnReady, when present, are strings. Suspiciously short
// timeouts only warn.
func Validate(doc map[string]any) *ValidationResult {
	result := &ValidationResult{Valid: true}
	fail := func(format string, args ...any) {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}
	warn := func(format string, args ...any) {
		result.Warnings = append(result.Warnings, fmt.Sprintf(format, args...))
	}

	if doc == nil {
		fail("document is empty")
		return result
	}

	rawPaths, ok := doc["paths"]
	if !ok {
		fail("document has no paths mapping")
		return result
	}
	paths, ok := asMap(rawPaths)
	if !ok {
		fail("paths must be a mapping")
		return result
	}

	for name, rawEntry := range paths {
		if rawEntry == nil {
			continue
		}
		entry, ok := asMap(rawEntry)
		if !ok {
			fail("path %q must be null or a mapping", name)
			continue
		}

		for _, key := range []string{"source", "runOnReady", "runOnDemand"} {
			if value, present := entry[key]; present {
				if _, isString := value.(string); !isString {
					fail("path %q: %s must be a string", name, key)
				}
			}
		}

		for _, key := range []string{"readTimeout", "writeTimeout"} {
			if value, present := entry[key]; present {
				if seconds, ok := timeoutSeconds(value); ok && seconds < minTimeoutSeconds {
					warn("path %q: %s of %gs is below %gs and may drop slow clients", name, key, seconds, minTimeoutSeconds)
				}
			}
		}
	}

	for _, key := range []string{"readTimeout", "writeTimeout"} {
		if value, present := doc[key]; present {
			if seconds, ok := timeoutSeconds(value); ok && seconds < minTimeoutSeconds {
				warn("global %s of %gs is below %gs and may drop slow clients", key, seconds, minTimeoutSeconds)
			}
		}
	}

	return result
}

// asMap normalizes both string-keyed and interface-keyed maps.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// timeoutSeconds parses timeout values in their common YAML spellings:
// bare numbers (seconds) or duration strings like "3s" and "500ms".
func timeoutSeconds(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case float64:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		switch {
		case strings.HasSuffix(s, "ms"):
			if n, err := strconv.ParseFloat(strings.TrimSuffix(s, "ms"), 64); err == nil {
				return n / 1000, true
			}
		case strings.HasSuffix(s, "s"):
			if n, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64); err == nil {
				return n, true
			}
		default:
			if n, err := strconv.ParseFloat(s, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
