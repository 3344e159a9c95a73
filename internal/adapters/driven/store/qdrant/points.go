package qdrant

import (
	"context"
	"encoding/json"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/custodia-labs/testseek/internal/core/domain"
	"github.com/custodia-labs/testseek/internal/core/ports/driven"
)

// docPayload builds the payload for a doc-tier point: the flat
// filterable fields plus the full document as a JSON blob for
// hydration.
func docPayload(doc *domain.TestDoc) (map[string]*pb.Value, error) {
	blob, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal doc %s: %w", doc.UID, err)
	}

	payload := map[string]*pb.Value{
		fieldUID: stringValue(doc.UID),
		fieldDoc: stringValue(string(blob)),
	}
	addFilterFields(payload, doc)
	return payload, nil
}

// stepPayload builds the payload for a step-tier point. The parent's
// filterable fields are denormalised onto the step so filters push down
// on this tier too.
func stepPayload(parent *domain.TestDoc, step *domain.TestStep) (map[string]*pb.Value, error) {
	blob, err := json.Marshal(step)
	if err != nil {
		return nil, fmt.Errorf("marshal step %s#%d: %w", parent.UID, step.Index, err)
	}

	payload := map[string]*pb.Value{
		fieldParentUID: stringValue(parent.UID),
		fieldStepIndex: {Kind: &pb.Value_IntegerValue{IntegerValue: int64(step.Index)}},
		fieldStep:      stringValue(string(blob)),
	}
	addFilterFields(payload, parent)
	return payload, nil
}

func addFilterFields(payload map[string]*pb.Value, doc *domain.TestDoc) {
	if doc.ExternalKey != "" {
		payload[fieldExternalKey] = stringValue(doc.ExternalKey)
	}
	if doc.Priority != "" {
		payload[fieldPriority] = stringValue(string(doc.Priority))
	}
	if doc.TestType != "" {
		payload[fieldTestType] = stringValue(doc.TestType)
	}
	if len(doc.Tags) > 0 {
		payload[fieldTags] = listValue(doc.Tags)
	}
	if len(doc.Platforms) > 0 {
		payload[fieldPlatforms] = listValue(doc.Platforms)
	}
	if len(doc.RelatedKeys) > 0 {
		payload[fieldRelatedKeys] = listValue(doc.RelatedKeys)
	}
	if len(doc.FolderPath) > 0 {
		payload[fieldFolderPrefixes] = listValue(folderPrefixes(doc.FolderPath))
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func listValue(values []string) *pb.Value {
	items := make([]*pb.Value, len(values))
	for i, v := range values {
		items[i] = stringValue(v)
	}
	return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: items}}}
}

// parseDocPayload restores a TestDoc from a point payload.
func parseDocPayload(payload map[string]*pb.Value) (*domain.TestDoc, error) {
	blob := payload[fieldDoc].GetStringValue()
	if blob == "" {
		return nil, fmt.Errorf("%w: point payload has no doc blob", domain.ErrInternal)
	}
	var doc domain.TestDoc
	if err := json.Unmarshal([]byte(blob), &doc); err != nil {
		return nil, fmt.Errorf("%w: unmarshal doc payload: %w", domain.ErrInternal, err)
	}
	return &doc, nil
}

// parseStepPayload restores a TestStep from a point payload.
func parseStepPayload(payload map[string]*pb.Value) (*domain.TestStep, error) {
	blob := payload[fieldStep].GetStringValue()
	if blob == "" {
		return nil, fmt.Errorf("%w: point payload has no step blob", domain.ErrInternal)
	}
	var step domain.TestStep
	if err := json.Unmarshal([]byte(blob), &step); err != nil {
		return nil, fmt.Errorf("%w: unmarshal step payload: %w", domain.ErrInternal, err)
	}
	return &step, nil
}

// UpsertDocs writes a batch of doc-tier points.
func (s *Store) UpsertDocs(ctx context.Context, points []driven.DocPoint) error {
	if len(points) == 0 {
		return nil
	}

	pbPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		payload, err := docPayload(&p.Doc)
		if err != nil {
			return err
		}
		pbPoints[i] = &pb.PointStruct{
			Id:      docPointID(p.Doc.UID),
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
			Payload: payload,
		}
	}

	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.docCollection,
		Points:         pbPoints,
	})
	if err != nil {
		return fmt.Errorf("upsert docs: %w: %w", domain.ErrTransient, err)
	}
	return nil
}

// UpsertSteps writes a batch of step-tier points. Each point needs its
// parent's payload for denormalised filter fields, so each distinct
// parent doc is fetched from the doc tier by the StepPoint's ParentUID;
// a parent that is not stored yet fails the whole batch.
func (s *Store) UpsertSteps(ctx context.Context, points []driven.StepPoint) error {
	if len(points) == 0 {
		return nil
	}

	// Fetch each distinct parent payload once for denormalisation.
	parents := make(map[string]*domain.TestDoc)
	for _, p := range points {
		if _, ok := parents[p.ParentUID]; ok {
			continue
		}
		doc, err := s.FetchDocByUID(ctx, p.ParentUID)
		if err != nil {
			return fmt.Errorf("step upsert needs parent %s: %w", p.ParentUID, err)
		}
		parents[p.ParentUID] = doc
	}

	pbPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		step := p.Step
		payload, err := stepPayload(parents[p.ParentUID], &step)
		if err != nil {
			return err
		}
		pbPoints[i] = &pb.PointStruct{
			Id:      stepPointID(p.ParentUID, p.Step.Index),
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
			Payload: payload,
		}
	}

	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.stepCollection,
		Points:         pbPoints,
	})
	if err != nil {
		return fmt.Errorf("upsert steps: %w: %w", domain.ErrTransient, err)
	}
	return nil
}

// DeleteDocByUID removes a document point. Safe if absent.
func (s *Store) DeleteDocByUID(ctx context.Context, uid string) error {
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.docCollection,
		Points: &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Points{
			Points: &pb.PointsIdsList{Ids: []*pb.PointId{docPointID(uid)}},
		}},
	})
	if err != nil {
		return fmt.Errorf("delete doc %s: %w: %w", uid, domain.ErrTransient, err)
	}
	return nil
}

// DeleteStepsByParent removes all steps of a document. Safe if absent.
func (s *Store) DeleteStepsByParent(ctx context.Context, uid string) error {
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.stepCollection,
		Points: &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Filter{
			Filter: matchUID(fieldParentUID, uid),
		}},
	})
	if err != nil {
		return fmt.Errorf("delete steps of %s: %w: %w", uid, domain.ErrTransient, err)
	}
	return nil
}

// FetchDocByUID returns the stored payload for a document.
func (s *Store) FetchDocByUID(ctx context.Context, uid string) (*domain.TestDoc, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.docCollection,
		Ids:            []*pb.PointId{docPointID(uid)},
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, fmt.Errorf("get doc %s: %w: %w", uid, domain.ErrTransient, err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, fmt.Errorf("doc %q: %w", uid, domain.ErrNotFound)
	}
	return parseDocPayload(resp.GetResult()[0].GetPayload())
}

// FetchDocVector returns the stored embedding for a document.
func (s *Store) FetchDocVector(ctx context.Context, uid string) ([]float32, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.docCollection,
		Ids:            []*pb.PointId{docPointID(uid)},
		WithVectors:    withVectors(),
	})
	if err != nil {
		return nil, fmt.Errorf("get doc vector %s: %w: %w", uid, domain.ErrTransient, err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, fmt.Errorf("doc %q: %w", uid, domain.ErrNotFound)
	}
	vec := resp.GetResult()[0].GetVectors().GetVector().GetData()
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: doc %q has no vector", domain.ErrInternal, uid)
	}
	return vec, nil
}

func withPayload() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
}

func withVectors() *pb.WithVectorsSelector {
	return &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}}
}
