// Package vector implements the Vector Store (C3): an ANN index over
// memory-unit embeddings under cosine distance, with the payload filters
// named in SPEC_FULL.md §4.3. Grounded on pkg/component/milvus and the
// collection-lifecycle idiom of internal/rag/store, adapted from an
// autoID int64 chunk-id schema to a string `unit_id` primary key so deletes
// and upserts are direct point operations (spec §4.3: "deletes are by
// unit_id").
package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/kart-io/logger"
	"github.com/kart-io/memoryd/internal/model"
)

// CollectionName is the one collection named in SPEC_FULL.md §6.
const CollectionName = "memories_v1"

const (
	fieldUnitID         = "unit_id"
	fieldEmbedding      = "embedding"
	fieldProjectID      = "project_id"
	fieldConversationID = "conversation_id"
	fieldUnitType       = "unit_type"
	fieldCreatedAt      = "created_at"
	fieldHasExpiry      = "has_expiry"
	fieldExpiresAt      = "expires_at"
	fieldKeywords       = "keywords"
)

// Store wraps a raw milvus client with the Point/Search/Delete vocabulary
// the orchestrator and retriever need.
type Store struct {
	client    *milvusclient.Client
	dimension int
}

// New connects to milvus and returns a Store bound to CollectionName.
func New(ctx context.Context, address, username, password, database string, dimension int, timeout time.Duration) (*Store, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	c, err := milvusclient.New(cctx, &milvusclient.ClientConfig{
		Address:  address,
		Username: username,
		Password: password,
		DBName:   database,
	})
	if err != nil {
		return nil, fmt.Errorf("vector store: connect: %w", err)
	}
	return &Store{client: c, dimension: dimension}, nil
}

// Close releases the underlying client.
func (s *Store) Close(ctx context.Context) error { return s.client.Close(ctx) }

// Dimension returns the configured vector dimension (I2).
func (s *Store) Dimension() int { return s.dimension }

// Ping verifies the collection is still reachable, for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(CollectionName))
	return err
}

// EnsureCollection verifies the collection exists and its dimension matches,
// creating it if missing — Phase 2 of the orchestrator's init (SPEC_FULL.md
// §4.8).
func (s *Store) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(CollectionName))
	if err != nil {
		return fmt.Errorf("vector store: check collection: %w", err)
	}
	if exists {
		return s.verifyDimension(ctx)
	}

	schema := entity.NewSchema().
		WithName(CollectionName).
		WithDescription("conversation memory units").
		WithField(entity.NewField().WithName(fieldUnitID).WithDataType(entity.FieldTypeVarChar).
			WithIsPrimaryKey(true).WithMaxLength(64)).
		WithField(entity.NewField().WithName(fieldEmbedding).WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(s.dimension))).
		WithField(entity.NewField().WithName(fieldProjectID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(128)).
		WithField(entity.NewField().WithName(fieldConversationID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
		WithField(entity.NewField().WithName(fieldUnitType).WithDataType(entity.FieldTypeVarChar).WithMaxLength(32)).
		WithField(entity.NewField().WithName(fieldCreatedAt).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(fieldHasExpiry).WithDataType(entity.FieldTypeBool)).
		WithField(entity.NewField().WithName(fieldExpiresAt).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(fieldKeywords).WithDataType(entity.FieldTypeVarChar).WithMaxLength(4096))

	if err := s.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(CollectionName, schema)); err != nil {
		return fmt.Errorf("vector store: create collection: %w", err)
	}

	idx := index.NewIvfFlatIndex(entity.COSINE, 128)
	task, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(CollectionName, fieldEmbedding, idx))
	if err != nil {
		return fmt.Errorf("vector store: create index: %w", err)
	}
	if err := task.Await(ctx); err != nil {
		return fmt.Errorf("vector store: await index: %w", err)
	}

	loadTask, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(CollectionName))
	if err != nil {
		return fmt.Errorf("vector store: load collection: %w", err)
	}
	return loadTask.Await(ctx)
}

func (s *Store) verifyDimension(ctx context.Context) error {
	desc, err := s.client.DescribeCollection(ctx, milvusclient.NewDescribeCollectionOption(CollectionName))
	if err != nil {
		return fmt.Errorf("vector store: describe collection: %w", err)
	}
	for _, f := range desc.Schema.Fields {
		if f.Name == fieldEmbedding {
			for k, v := range f.TypeParams {
				if k == "dim" && v != fmt.Sprintf("%d", s.dimension) {
					return fmt.Errorf("vector store: collection dimension %s does not match configured %d", v, s.dimension)
				}
			}
		}
	}
	return nil
}

// Point is the payload written/read for one memory unit (SPEC_FULL.md §4.3).
type Point struct {
	UnitID         string
	Embedding      []float32
	ProjectID      string
	ConversationID string
	UnitType       model.UnitType
	CreatedAt      time.Time
	ExpiresAt      *time.Time
	Keywords       []string
}

// Upsert writes or replaces one point, keyed by UnitID — the second step of
// the compensating write (SPEC_FULL.md §4.8).
func (s *Store) Upsert(ctx context.Context, p Point) error {
	if len(p.Embedding) != s.dimension {
		return fmt.Errorf("vector store: embedding dimension %d != configured %d", len(p.Embedding), s.dimension)
	}
	hasExpiry := p.ExpiresAt != nil
	var expiresAt int64
	if hasExpiry {
		expiresAt = p.ExpiresAt.Unix()
	}
	keywordsJoined := joinKeywords(p.Keywords)

	cols := []column.Column{
		column.NewColumnVarChar(fieldUnitID, []string{p.UnitID}),
		column.NewColumnFloatVector(fieldEmbedding, s.dimension, [][]float32{p.Embedding}),
		column.NewColumnVarChar(fieldProjectID, []string{p.ProjectID}),
		column.NewColumnVarChar(fieldConversationID, []string{p.ConversationID}),
		column.NewColumnVarChar(fieldUnitType, []string{string(p.UnitType)}),
		column.NewColumnInt64(fieldCreatedAt, []int64{p.CreatedAt.Unix()}),
		column.NewColumnBool(fieldHasExpiry, []bool{hasExpiry}),
		column.NewColumnInt64(fieldExpiresAt, []int64{expiresAt}),
		column.NewColumnVarChar(fieldKeywords, []string{keywordsJoined}),
	}

	// Upsert semantics: delete-then-insert, since the varchar primary key
	// is not autoID and the SDK's Upsert path requires a numeric PK.
	_, _ = s.client.Delete(ctx, milvusclient.NewDeleteOption(CollectionName).WithExpr(fmt.Sprintf("%s == \"%s\"", fieldUnitID, p.UnitID)))

	if _, err := s.client.Insert(ctx, milvusclient.NewColumnBasedInsertOption(CollectionName, cols...)); err != nil {
		return fmt.Errorf("vector store: upsert: %w", err)
	}
	flushTask, err := s.client.Flush(ctx, milvusclient.NewFlushOption(CollectionName))
	if err != nil {
		return fmt.Errorf("vector store: flush: %w", err)
	}
	return flushTask.Await(ctx)
}

// Delete removes the point for unitID — used by compensation and by admin
// archival.
func (s *Store) Delete(ctx context.Context, unitID string) error {
	expr := fmt.Sprintf("%s == \"%s\"", fieldUnitID, unitID)
	if _, err := s.client.Delete(ctx, milvusclient.NewDeleteOption(CollectionName).WithExpr(expr)); err != nil {
		return fmt.Errorf("vector store: delete: %w", err)
	}
	return nil
}

// Exists reports whether a point for unitID is present — used by
// reconciliation read-back paths (I1).
func (s *Store) Exists(ctx context.Context, unitID string) (bool, error) {
	expr := fmt.Sprintf("%s == \"%s\"", fieldUnitID, unitID)
	res, err := s.client.Query(ctx, milvusclient.NewQueryOption(CollectionName).
		WithFilter(expr).WithOutputFields(fieldUnitID).WithLimit(1))
	if err != nil {
		return false, fmt.Errorf("vector store: query: %w", err)
	}
	return len(res.Fields) > 0 && res.ResultCount > 0, nil
}

// SearchFilter carries Stage A's semantic-branch payload filter
// (SPEC_FULL.md §4.6): project_id = :p ∧ unit_type ∈ :t? ∧ (expires_at
// IS ABSENT ∨ expires_at > now).
type SearchFilter struct {
	ProjectIDs     []string
	UnitTypes      []model.UnitType
	IncludeExpired bool
	Now            time.Time
}

// Hit is one semantic-branch search hit (unit_id, cosine_similarity).
type Hit struct {
	UnitID     string
	Similarity float32
}

// Search runs a top-K cosine search filtered per SearchFilter.
func (s *Store) Search(ctx context.Context, queryVector []float32, topK int, filter SearchFilter) ([]Hit, error) {
	expr := buildFilterExpr(filter)
	opt := milvusclient.NewSearchOption(CollectionName, topK, []entity.Vector{entity.FloatVector(queryVector)}).
		WithANNSField(fieldEmbedding).
		WithSearchParam("nprobe", "16").
		WithOutputFields(fieldUnitID)
	if expr != "" {
		opt = opt.WithFilter(expr)
	}
	results, err := s.client.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("vector store: search: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	hits := make([]Hit, 0, results[0].ResultCount)
	for i := 0; i < results[0].ResultCount; i++ {
		var unitID string
		for _, f := range results[0].Fields {
			if col, ok := f.(*column.ColumnVarChar); ok && col.Name() == fieldUnitID {
				unitID = col.Data()[i]
			}
		}
		hits = append(hits, Hit{UnitID: unitID, Similarity: results[0].Scores[i]})
	}
	return hits, nil
}

func buildFilterExpr(f SearchFilter) string {
	expr := ""
	if len(f.ProjectIDs) == 1 {
		expr = fmt.Sprintf(`%s == "%s"`, fieldProjectID, f.ProjectIDs[0])
	} else if len(f.ProjectIDs) > 1 {
		expr = fmt.Sprintf("%s in %s", fieldProjectID, quotedList(f.ProjectIDs))
	}
	if len(f.UnitTypes) > 0 {
		types := make([]string, len(f.UnitTypes))
		for i, t := range f.UnitTypes {
			types[i] = string(t)
		}
		typeExpr := fmt.Sprintf("%s in %s", fieldUnitType, quotedList(types))
		expr = andJoin(expr, typeExpr)
	}
	if !f.IncludeExpired {
		now := f.Now
		if now.IsZero() {
			now = time.Now().UTC()
		}
		// "field is absent OR field > now" — modelled via the companion
		// has_expiry boolean since Milvus scalar columns have no true null
		// (SPEC_FULL.md §4.3).
		expiryExpr := fmt.Sprintf("(%s == false || %s > %d)", fieldHasExpiry, fieldExpiresAt, now.Unix())
		expr = andJoin(expr, expiryExpr)
	}
	return expr
}

func andJoin(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + " && " + b
}

func quotedList(vals []string) string {
	out := "["
	for i, v := range vals {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf(`"%s"`, v)
	}
	return out + "]"
}

func joinKeywords(keywords []string) string {
	out := ""
	for i, k := range keywords {
		if i > 0 {
			out += ","
		}
		out += k
	}
	return out
}

// DropCollection is used only by integration-test teardown.
func (s *Store) DropCollection(ctx context.Context) error {
	if err := s.client.DropCollection(ctx, milvusclient.NewDropCollectionOption(CollectionName)); err != nil {
		logger.Warnf("vector store: drop collection: %v", err)
		return err
	}
	return nil
}
