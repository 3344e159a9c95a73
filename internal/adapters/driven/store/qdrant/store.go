// Package qdrant implements the vector store port on Qdrant over gRPC.
// Two collections hold the doc and step tiers; deterministic UUIDv5
// point IDs make upserts idempotent, and every filterable payload field
// carries a keyword index so filters push down server-side.
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/custodia-labs/testseek/internal/core/domain"
	"github.com/custodia-labs/testseek/internal/core/ports/driven"
	"github.com/custodia-labs/testseek/internal/logger"
)

// Ensure Store implements the interface.
var _ driven.VectorStore = (*Store)(nil)

// Default collection names.
const (
	DefaultDocCollection  = "tests"
	DefaultStepCollection = "test_steps"
)

// pointNamespace seeds the deterministic UUIDv5 point IDs.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("testseek.custodia-labs.github.com"))

// Config holds the store connection settings.
type Config struct {
	// Addr is the Qdrant gRPC address (host:port).
	Addr string

	// DocCollection and StepCollection name the two tiers.
	DocCollection  string
	StepCollection string
}

// Store is a Qdrant-backed two-tier vector store.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	qdrant      pb.QdrantClient

	docCollection  string
	stepCollection string
}

// NewStore connects to Qdrant.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: qdrant address is required", domain.ErrFatalConfig)
	}
	if cfg.DocCollection == "" {
		cfg.DocCollection = DefaultDocCollection
	}
	if cfg.StepCollection == "" {
		cfg.StepCollection = DefaultStepCollection
	}

	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}

	return &Store{
		conn:           conn,
		points:         pb.NewPointsClient(conn),
		collections:    pb.NewCollectionsClient(conn),
		qdrant:         pb.NewQdrantClient(conn),
		docCollection:  cfg.DocCollection,
		stepCollection: cfg.StepCollection,
	}, nil
}

// EnsureSchema creates both collections when missing and validates the
// vector dimension of existing ones. A dimension mismatch is fatal: the
// collections were built for a different embedding model.
func (s *Store) EnsureSchema(ctx context.Context, dim int) error {
	if dim < 1 {
		return fmt.Errorf("%w: vector dimension must be positive", domain.ErrFatalConfig)
	}

	for _, collection := range []string{s.docCollection, s.stepCollection} {
		if err := s.ensureCollection(ctx, collection, dim); err != nil {
			return err
		}
	}

	docFields := []string{fieldUID, fieldExternalKey, fieldPriority, fieldTestType,
		fieldTags, fieldPlatforms, fieldRelatedKeys, fieldFolderPrefixes}
	stepFields := []string{fieldParentUID, fieldExternalKey, fieldPriority, fieldTestType,
		fieldTags, fieldPlatforms, fieldRelatedKeys, fieldFolderPrefixes}

	if err := s.ensureIndexes(ctx, s.docCollection, docFields); err != nil {
		return err
	}
	return s.ensureIndexes(ctx, s.stepCollection, stepFields)
}

func (s *Store) ensureCollection(ctx context.Context, name string, dim int) error {
	info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err == nil {
		return checkDimension(name, info.GetResult(), dim)
	}

	logger.Info("Creating collection %s (dim=%d)", name, dim)
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{
				Size:     uint64(dim),
				Distance: pb.Distance_Cosine,
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w: %w", name, domain.ErrTransient, err)
	}
	return nil
}

func checkDimension(name string, info *pb.CollectionInfo, dim int) error {
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return fmt.Errorf("%w: collection %s has no vector params", domain.ErrFatalConfig, name)
	}
	if got := int(params.GetSize()); got != dim {
		return fmt.Errorf("%w: collection %s has dimension %d, configured %d",
			domain.ErrFatalConfig, name, got, dim)
	}
	return nil
}

func (s *Store) ensureIndexes(ctx context.Context, collection string, fields []string) error {
	for _, field := range fields {
		_, err := s.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      field,
			FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("index %s.%s: %w: %w", collection, field, domain.ErrTransient, err)
		}
	}
	return nil
}

// docPointID derives the deterministic point ID for a document.
func docPointID(uid string) *pb.PointId {
	id := uuid.NewSHA1(pointNamespace, []byte("doc:"+uid))
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}}
}

// stepPointID derives the deterministic point ID for a step.
func stepPointID(parentUID string, index int) *pb.PointId {
	id := uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("step:%s#%d", parentUID, index)))
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}}
}

// Counts returns the exact per-tier point counts.
func (s *Store) Counts(ctx context.Context) (driven.Counts, error) {
	exact := true
	var counts driven.Counts
	for _, tier := range []struct {
		collection string
		dst        *int64
	}{
		{s.docCollection, &counts.Docs},
		{s.stepCollection, &counts.Steps},
	} {
		resp, err := s.points.Count(ctx, &pb.CountPoints{
			CollectionName: tier.collection,
			Exact:          &exact,
		})
		if err != nil {
			return driven.Counts{}, fmt.Errorf("count %s: %w: %w", tier.collection, domain.ErrTransient, err)
		}
		*tier.dst = int64(resp.GetResult().GetCount())
	}
	return counts, nil
}

// Ping checks the Qdrant health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.qdrant.HealthCheck(ctx, &pb.HealthCheckRequest{}); err != nil {
		return fmt.Errorf("qdrant health check: %w: %w", domain.ErrTransient, err)
	}
	return nil
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
