package normalisers

import (
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/testseek/internal/core/domain"
	"github.com/custodia-labs/testseek/internal/core/ports/driven"
)

// Ensure TestRailNormaliser implements the interface.
var _ driven.Normaliser = (*TestRailNormaliser)(nil)

// TestRailNormaliser handles TestRail-style API test exports: flat
// records with a testCaseId, a nullable jiraKey and top-level steps.
type TestRailNormaliser struct{}

// NewTestRailNormaliser creates the TestRail normaliser.
func NewTestRailNormaliser() *TestRailNormaliser { return &TestRailNormaliser{} }

// Name identifies the format.
func (n *TestRailNormaliser) Name() string { return "testrail" }

// Matches recognises flat records carrying a testCaseId or jiraKey.
func (n *TestRailNormaliser) Matches(raw *domain.RawRecord) bool {
	return raw.Has("testCaseId") || raw.Has("jiraKey")
}

// testRailStep is one entry of the top-level steps array.
type testRailStep struct {
	Index    int             `json:"index"`
	Action   string          `json:"action"`
	Data     string          `json:"data"`
	Expected json.RawMessage `json:"expected"`
}

// Normalise transforms a TestRail-style record.
func (n *TestRailNormaliser) Normalise(raw *domain.RawRecord) (*domain.TestDoc, []string, error) {
	var warnings []string

	doc := &domain.TestDoc{
		ExternalKey: str(raw.Fields, "jiraKey"),
		Title:       str(raw.Fields, "title"),
		Description: stringish(raw.Fields["description"]),
		TestType:    str(raw.Fields, "testType"),
		Platforms:   strList(raw.Fields, "platforms"),
		Tags:        mergeTags(strList(raw.Fields, "tags"), strList(raw.Fields, "labels")),
		RelatedKeys: mergeTags(strList(raw.Fields, "relatedIssues")),
		Source:      raw.SourceID,
	}
	if doc.Title == "" {
		doc.Title = str(raw.Fields, "summary")
	}

	// folder may arrive as a separated string or as an array.
	if folder := str(raw.Fields, "folder"); folder != "" {
		doc.FolderPath = splitFolder(folder)
	} else {
		doc.FolderPath = strList(raw.Fields, "folderStructure")
	}

	testCaseID := str(raw.Fields, "testCaseId")
	switch {
	case doc.ExternalKey != "":
		doc.UID = doc.ExternalKey
	case testCaseID != "":
		doc.UID = testCaseID
		warnings = append(warnings, fmt.Sprintf("null jiraKey, using testCaseId %s as uid", testCaseID))
	case doc.Title != "":
		doc.UID = fallbackUID(doc.Title, doc.Source)
		warnings = append(warnings, fmt.Sprintf("no identifier, derived uid %s from title", doc.UID))
	default:
		return nil, warnings, fmt.Errorf("%w: record has neither identifier nor title", domain.ErrInvalidInput)
	}

	rawPriority := str(raw.Fields, "priority")
	if priority, ok := normalisePriority(rawPriority); ok {
		doc.Priority = priority
	} else {
		doc.Priority = domain.Priority(rawPriority)
		warnings = append(warnings, fmt.Sprintf("unrecognised priority %q preserved", rawPriority))
	}

	steps, stepWarnings := n.parseSteps(raw)
	warnings = append(warnings, stepWarnings...)
	doc.Steps = steps

	return doc, warnings, nil
}

func (n *TestRailNormaliser) parseSteps(raw *domain.RawRecord) ([]domain.TestStep, []string) {
	stepsRaw, ok := raw.Fields["steps"]
	if !ok {
		return nil, nil
	}
	var parsed []testRailStep
	if err := json.Unmarshal(stepsRaw, &parsed); err != nil {
		return nil, []string{fmt.Sprintf("unreadable steps ignored: %v", err)}
	}

	steps := make([]domain.TestStep, 0, len(parsed))
	for i, s := range parsed {
		index := s.Index
		if index == 0 {
			index = i + 1
		}
		steps = append(steps, domain.TestStep{
			Index:    index,
			Action:   s.Action,
			Data:     s.Data,
			Expected: stringishList(s.Expected),
		})
	}
	return dedupeSteps(steps)
}
