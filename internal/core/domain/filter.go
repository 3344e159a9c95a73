package domain

import (
	"fmt"
	"strings"
)

// Filter bounds, mirrored in the tool input schemas.
const (
	// MaxFilterValueLen bounds every string inside a filter.
	MaxFilterValueLen = 256

	// MaxFilterSetSize bounds every set inside a filter.
	MaxFilterSetSize = 64
)

// Filter is the whitelisted set of metadata constraints a caller may
// apply to a search. The zero value matches everything.
type Filter struct {
	// Tags requires the doc's tags to be a superset of the given set.
	Tags []string `json:"tags,omitempty"`

	// Platforms requires the doc's platforms to be a superset of the given set.
	Platforms []string `json:"platforms,omitempty"`

	// Priority requires an exact priority match.
	Priority string `json:"priority,omitempty"`

	// TestType requires an exact test-type match.
	TestType string `json:"test_type,omitempty"`

	// FolderPrefix requires the doc's folder path to start with this prefix.
	FolderPrefix []string `json:"folder_prefix,omitempty"`

	// RelatedKeys requires the doc's related keys to intersect the given set.
	RelatedKeys []string `json:"related_keys,omitempty"`

	// ExternalKeyPattern is an anchored glob over the external key.
	// Only '*' and '?' wildcards are recognised.
	ExternalKeyPattern string `json:"external_key_pattern,omitempty"`
}

// IsZero reports whether the filter constrains nothing.
func (f *Filter) IsZero() bool {
	return f == nil || (len(f.Tags) == 0 && len(f.Platforms) == 0 &&
		f.Priority == "" && f.TestType == "" && len(f.FolderPrefix) == 0 &&
		len(f.RelatedKeys) == 0 && f.ExternalKeyPattern == "")
}

// FieldError describes a validation failure on one filter field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validate checks every field against the whitelist bounds. All failures
// are collected so the caller sees the full list at once.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	var fieldErrs []FieldError

	checkSet := func(field string, values []string) {
		if len(values) > MaxFilterSetSize {
			fieldErrs = append(fieldErrs, FieldError{field, fmt.Sprintf("too many values (max %d)", MaxFilterSetSize)})
			return
		}
		for _, v := range values {
			if reason := checkString(v); reason != "" {
				fieldErrs = append(fieldErrs, FieldError{field, reason})
			}
		}
	}

	checkSet("tags", f.Tags)
	checkSet("platforms", f.Platforms)
	checkSet("folder_prefix", f.FolderPrefix)
	checkSet("related_keys", f.RelatedKeys)

	if f.Priority != "" {
		if reason := checkString(f.Priority); reason != "" {
			fieldErrs = append(fieldErrs, FieldError{"priority", reason})
		} else if !Priority(f.Priority).Valid() {
			fieldErrs = append(fieldErrs, FieldError{"priority", "must be one of Critical, High, Medium, Low"})
		}
	}
	if f.TestType != "" {
		if reason := checkString(f.TestType); reason != "" {
			fieldErrs = append(fieldErrs, FieldError{"test_type", reason})
		}
	}
	if f.ExternalKeyPattern != "" {
		if reason := checkString(f.ExternalKeyPattern); reason != "" {
			fieldErrs = append(fieldErrs, FieldError{"external_key_pattern", reason})
		}
	}

	if len(fieldErrs) > 0 {
		return &FilterError{Fields: fieldErrs}
	}
	return nil
}

// checkString validates a single filter string value.
// Returns an empty string when the value is acceptable.
func checkString(v string) string {
	if strings.TrimSpace(v) == "" {
		return "empty value"
	}
	if len(v) > MaxFilterValueLen {
		return fmt.Sprintf("value too long (max %d)", MaxFilterValueLen)
	}
	for _, r := range v {
		if r < 0x20 || r == 0x7f {
			return "control characters are not allowed"
		}
	}
	return ""
}

// FilterError aggregates per-field validation failures.
type FilterError struct {
	Fields []FieldError `json:"fields"`
}

func (e *FilterError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, fe := range e.Fields {
		parts[i] = fe.Error()
	}
	return "invalid filter: " + strings.Join(parts, "; ")
}

// Unwrap makes the error classify as ErrInvalidInput.
func (e *FilterError) Unwrap() error { return ErrInvalidInput }

// MatchGlob evaluates the restricted anchored glob used by
// external_key_pattern: '*' matches any run of characters, '?' matches
// exactly one. All other characters match literally.
func MatchGlob(pattern, value string) bool {
	return matchGlob([]rune(pattern), []rune(value))
}

func matchGlob(pattern, value []rune) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			// Collapse consecutive stars, then try every split point.
			for len(pattern) > 0 && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 0 {
				return true
			}
			for i := 0; i <= len(value); i++ {
				if matchGlob(pattern, value[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(value) == 0 {
				return false
			}
		default:
			if len(value) == 0 || value[0] != pattern[0] {
				return false
			}
		}
		pattern = pattern[1:]
		value = value[1:]
	}
	return len(value) == 0
}

// Matches evaluates the filter against a doc in memory. The vector store
// pushes most of the filter down; this is the reference semantics used by
// the in-memory store and for client-side glob evaluation.
func (f *Filter) Matches(doc *TestDoc) bool {
	if f.IsZero() {
		return true
	}
	if !containsAll(doc.Tags, f.Tags) {
		return false
	}
	if !containsAll(doc.Platforms, f.Platforms) {
		return false
	}
	if f.Priority != "" && string(doc.Priority) != f.Priority {
		return false
	}
	if f.TestType != "" && doc.TestType != f.TestType {
		return false
	}
	if len(f.FolderPrefix) > 0 {
		if len(doc.FolderPath) < len(f.FolderPrefix) {
			return false
		}
		for i, seg := range f.FolderPrefix {
			if doc.FolderPath[i] != seg {
				return false
			}
		}
	}
	if len(f.RelatedKeys) > 0 && !intersects(doc.RelatedKeys, f.RelatedKeys) {
		return false
	}
	if f.ExternalKeyPattern != "" && !MatchGlob(f.ExternalKeyPattern, doc.ExternalKey) {
		return false
	}
	return true
}

func containsAll(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]bool, len(have))
	for _, v := range have {
		set[v] = true
	}
	for _, v := range want {
		if !set[v] {
			return false
		}
	}
	return true
}

func intersects(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, v := range have {
		set[v] = true
	}
	for _, v := range want {
		if set[v] {
			return true
		}
	}
	return false
}
