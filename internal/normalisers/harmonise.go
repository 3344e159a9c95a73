package normalisers

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/custodia-labs/testseek/internal/core/domain"
)

// uidNamespace seeds the deterministic fallback uid for records without
// any usable identifier.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("uid.testseek.custodia-labs.github.com"))

// fallbackUID derives a stable uid from the title and source for records
// that carry no identifier of their own.
func fallbackUID(title, source string) string {
	return "gen-" + uuid.NewSHA1(uidNamespace, []byte(source+"\x00"+title)).String()
}

// normalisePriority maps the priority spellings seen across trackers
// onto the canonical scale. ok is false for unrecognised values, which
// are preserved as-is by the caller and flagged with a warning.
func normalisePriority(raw string) (domain.Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "p0", "p1", "blocker", "urgent", "critical", "highest":
		return domain.PriorityCritical, true
	case "p2", "important", "high":
		return domain.PriorityHigh, true
	case "", "p3", "normal", "medium", "standard":
		return domain.PriorityMedium, true
	case "p4", "minor", "trivial", "low", "lowest":
		return domain.PriorityLow, true
	}
	return "", false
}

// mergeTags deduplicates tag sets case-preserving, first spelling wins.
func mergeTags(sets ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range sets {
		for _, tag := range set {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			key := strings.ToLower(tag)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, tag)
		}
	}
	return out
}

// splitFolder turns a "/"-separated folder string into a path, trimming
// leading/trailing separators and empty segments.
func splitFolder(folder string) []string {
	var path []string
	for _, seg := range strings.Split(folder, "/") {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			path = append(path, seg)
		}
	}
	return path
}

// dedupeSteps enforces unique step indices, last occurrence winning.
// Returns the surviving steps in index order plus a warning per
// collision.
func dedupeSteps(steps []domain.TestStep) ([]domain.TestStep, []string) {
	var warnings []string
	byIndex := make(map[int]domain.TestStep, len(steps))
	for _, step := range steps {
		if _, ok := byIndex[step.Index]; ok {
			warnings = append(warnings, fmt.Sprintf("duplicate step index %d, last occurrence wins", step.Index))
		}
		byIndex[step.Index] = step
	}
	out := make([]domain.TestStep, 0, len(byIndex))
	for _, step := range byIndex {
		out = append(out, step)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, warnings
}

// decoding helpers for the loosely typed corpus JSON

func str(fields map[string]json.RawMessage, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func strList(fields map[string]json.RawMessage, key string) []string {
	v, ok := fields[key]
	if !ok {
		return nil
	}
	var list []string
	if err := json.Unmarshal(v, &list); err == nil {
		return list
	}
	// A scalar harmonises to a one-element list.
	var s string
	if err := json.Unmarshal(v, &s); err == nil && strings.TrimSpace(s) != "" {
		return []string{s}
	}
	return nil
}

// stringish accepts JSON strings, numbers and lists of either, and
// renders them as a single string. Corpus exports are inconsistent
// about scalar types.
func stringish(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strings.TrimSpace(strings.TrimSuffix(fmt.Sprintf("%f", n), ".000000"))
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if part := stringish(item); part != "" {
				parts = append(parts, part)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// stringishList renders a scalar-or-array JSON value as a list.
func stringishList(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if part := stringish(item); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	if s := stringish(raw); s != "" {
		return []string{s}
	}
	return nil
}
