package domain

import (
	"fmt"
	"strings"
	"time"
)

// Priority is the execution priority of a test.
type Priority string

// Known priorities, ordered from most to least urgent.
const (
	PriorityCritical Priority = "Critical"
	PriorityHigh     Priority = "High"
	PriorityMedium   Priority = "Medium"
	PriorityLow      Priority = "Low"
)

// Valid reports whether the priority is one of the known values.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// TestStep is a single execution step within a test document.
type TestStep struct {
	// Index is the 1-based position of the step within its parent.
	Index int `json:"index"`

	// Action is the thing the tester does.
	Action string `json:"action"`

	// Data holds inputs for the action, if any.
	Data string `json:"data,omitempty"`

	// Expected lists the outcomes that should follow the action.
	Expected []string `json:"expected"`
}

// EmbedText builds the text that represents this step in the vector index.
// Action, data and expected outcomes are joined so that a query matching
// any part of the step lands on it.
func (s TestStep) EmbedText() string {
	var b strings.Builder
	b.WriteString(s.Action)
	if s.Data != "" {
		b.WriteString("\n")
		b.WriteString(s.Data)
	}
	if len(s.Expected) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(s.Expected, "; "))
	}
	return b.String()
}

// TestDoc is the canonical normalised test case: the unit of ingestion
// and retrieval. Instances are produced by the normalisers and persisted
// in the doc tier of the vector store; steps go to the step tier.
type TestDoc struct {
	// UID uniquely identifies the test across re-ingests.
	UID string `json:"uid"`

	// ExternalKey is the tracker issue key, if the test has one.
	ExternalKey string `json:"external_key,omitempty"`

	// Title is the short name of the test. Required.
	Title string `json:"title"`

	// Description is the long-form body, if any.
	Description string `json:"description,omitempty"`

	// Priority defaults to Medium when the source does not carry one.
	Priority Priority `json:"priority,omitempty"`

	// TestType classifies the test (e.g. "Manual", "API").
	TestType string `json:"test_type,omitempty"`

	// Platforms the test applies to.
	Platforms []string `json:"platforms,omitempty"`

	// Tags attached to the test.
	Tags []string `json:"tags,omitempty"`

	// FolderPath is the hierarchical location in the test repository.
	FolderPath []string `json:"folder_path,omitempty"`

	// RelatedKeys cross-references other tracker issues.
	RelatedKeys []string `json:"related_keys,omitempty"`

	// Steps in execution order. May be empty.
	Steps []TestStep `json:"steps,omitempty"`

	// Source marks the corpus the test came from.
	Source string `json:"source"`

	// IngestedAt is set by the ingestion pipeline.
	IngestedAt time.Time `json:"ingested_at"`
}

// EmbedText builds the text that represents the document in the doc tier:
// title plus description when present.
func (d *TestDoc) EmbedText() string {
	if d.Description == "" {
		return d.Title
	}
	return d.Title + "\n" + d.Description
}

// Validate checks the structural invariants of a normalised document.
func (d *TestDoc) Validate() error {
	if strings.TrimSpace(d.UID) == "" {
		return fmt.Errorf("%w: uid is required", ErrInvalidInput)
	}
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	seen := make(map[int]bool, len(d.Steps))
	for _, step := range d.Steps {
		if step.Index < 1 {
			return fmt.Errorf("%w: step index must be >= 1, got %d", ErrInvalidInput, step.Index)
		}
		if seen[step.Index] {
			return fmt.Errorf("%w: duplicate step index %d", ErrInvalidInput, step.Index)
		}
		seen[step.Index] = true
	}
	return nil
}
