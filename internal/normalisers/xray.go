package normalisers

import (
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/testseek/internal/core/domain"
	"github.com/custodia-labs/testseek/internal/core/ports/driven"
)

// Ensure XrayNormaliser implements the interface.
var _ driven.Normaliser = (*XrayNormaliser)(nil)

// XrayNormaliser handles Xray functional test exports: records carrying
// an issueKey and a testScript with nested steps.
type XrayNormaliser struct{}

// NewXrayNormaliser creates the Xray functional normaliser.
func NewXrayNormaliser() *XrayNormaliser { return &XrayNormaliser{} }

// Name identifies the format.
func (n *XrayNormaliser) Name() string { return "xray" }

// Matches recognises records with an issueKey or a testScript block.
func (n *XrayNormaliser) Matches(raw *domain.RawRecord) bool {
	return raw.Has("issueKey") || raw.Has("testScript")
}

// xrayScript is the nested testScript block of an Xray export.
type xrayScript struct {
	Steps []struct {
		Index  int             `json:"index"`
		Step   string          `json:"step"`
		Action string          `json:"action"`
		Data   string          `json:"data"`
		Result json.RawMessage `json:"result"`
	} `json:"steps"`
}

// Normalise transforms an Xray functional record.
func (n *XrayNormaliser) Normalise(raw *domain.RawRecord) (*domain.TestDoc, []string, error) {
	var warnings []string

	doc := &domain.TestDoc{
		ExternalKey: str(raw.Fields, "issueKey"),
		Title:       str(raw.Fields, "summary"),
		Description: stringish(raw.Fields["description"]),
		TestType:    str(raw.Fields, "testType"),
		Platforms:   strList(raw.Fields, "platforms"),
		Tags:        mergeTags(strList(raw.Fields, "labels"), strList(raw.Fields, "tags")),
		RelatedKeys: mergeTags(strList(raw.Fields, "relatedIssues")),
		FolderPath:  splitFolder(str(raw.Fields, "folderStructure")),
		Source:      raw.SourceID,
	}
	if doc.Title == "" {
		doc.Title = str(raw.Fields, "title")
	}

	// Identifier preference: issue key, then the source case id, then a
	// deterministic hash of title and source.
	switch {
	case doc.ExternalKey != "":
		doc.UID = doc.ExternalKey
	case str(raw.Fields, "testId") != "":
		doc.UID = str(raw.Fields, "testId")
		warnings = append(warnings, fmt.Sprintf("no issue key, using testId %s as uid", doc.UID))
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

func (n *XrayNormaliser) parseSteps(raw *domain.RawRecord) ([]domain.TestStep, []string) {
	scriptRaw, ok := raw.Fields["testScript"]
	if !ok {
		return nil, nil
	}
	var script xrayScript
	if err := json.Unmarshal(scriptRaw, &script); err != nil {
		return nil, []string{fmt.Sprintf("unreadable testScript ignored: %v", err)}
	}

	steps := make([]domain.TestStep, 0, len(script.Steps))
	for i, s := range script.Steps {
		action := s.Step
		if action == "" {
			action = s.Action
		}
		index := s.Index
		if index == 0 {
			index = i + 1
		}
		steps = append(steps, domain.TestStep{
			Index:    index,
			Action:   action,
			Data:     s.Data,
			Expected: stringishList(s.Result),
		})
	}
	return dedupeSteps(steps)
}
