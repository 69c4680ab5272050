package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kart-io/logger"

	"github.com/kart-io/memoryd/internal/model"
	"github.com/kart-io/memoryd/internal/store/vector"
	"github.com/kart-io/memoryd/pkg/infra/tracing"
)

const writeTracerName = "memoryd/orchestrator"

// AddMemory is the compensating-transaction write named in spec.md §4.8:
// insert the structured row and commit, then upsert the paired vector
// point. A vector-upsert failure deletes the structured row it can no
// longer be paired with; a foreign-key violation on the vector side is a
// programmer error and is never swallowed — it still triggers compensation
// but is returned verbatim so it surfaces loudly.
func (o *Orchestrator) AddMemory(ctx context.Context, unit *model.MemoryUnit, embedding []float32) (*model.MemoryUnit, error) {
	ctx, span := tracing.StartSpan(ctx, writeTracerName, "orchestrator.AddMemory")
	defer tracing.EndSpan(span)

	if unit.UnitID == "" {
		unit.UnitID = uuid.NewString()
	}
	tracing.AddSpanAttributes(ctx,
		tracing.String("memoryd.project_id", unit.ProjectID),
		tracing.String("memoryd.unit_id", unit.UnitID),
		tracing.String("memoryd.unit_type", string(unit.UnitType)),
	)

	err := o.structured.WithTransaction(ctx, func(tx *gorm.DB) error {
		return o.structured.InsertMemoryUnit(ctx, tx, unit)
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("orchestrator: insert memory unit: %w", err)
	}

	point := vector.Point{
		UnitID:         unit.UnitID,
		Embedding:      embedding,
		ProjectID:      unit.ProjectID,
		UnitType:       unit.UnitType,
		CreatedAt:      unit.CreatedAt,
		ExpiresAt:      unit.ExpiresAt,
		Keywords:       []string(unit.Keywords),
	}
	if unit.ConversationID != nil {
		point.ConversationID = *unit.ConversationID
	}

	if err := o.vector.Upsert(ctx, point); err != nil {
		tracing.AddSpanEvent(ctx, "compensating structured insert")
		compErr := o.compensateStructuredInsert(context.WithoutCancel(ctx), unit.UnitID)
		if compErr != nil {
			logger.Errorw("orchestrator: compensation failed, structured/vector stores diverged",
				"unit_id", unit.UnitID, "vector_error", err.Error(), "compensation_error", compErr.Error())
			tracing.RecordErrorWithStatus(ctx, compErr, "compensation failed, stores diverged")
			return nil, fmt.Errorf("orchestrator: vector upsert failed (%w) and compensation failed (%v); manual reconciliation required for unit %s", err, compErr, unit.UnitID)
		}
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("orchestrator: vector upsert failed, structured row compensated: %w", err)
	}

	return unit, nil
}

// compensateStructuredInsert retries the structured-row delete a bounded
// number of times before giving up: a transient deletion failure must not
// be confused with a genuinely unreconcilable divergence.
func (o *Orchestrator) compensateStructuredInsert(ctx context.Context, unitID string) error {
	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := o.structured.DeleteMemoryUnit(ctx, unitID); err != nil {
			lastErr = err
			time.Sleep(time.Duration(i+1) * 200 * time.Millisecond)
			continue
		}
		return nil
	}
	return lastErr
}

// ReconcileUnit checks both stores agree a unit exists, used by periodic
// consistency sweeps (spec.md §4.8: "on read-back for reconciliation, check
// both stores"). It reports divergence rather than repairing it — repair
// requires the embedding, which this path does not have.
func (o *Orchestrator) ReconcileUnit(ctx context.Context, unitID string) (structuredOK, vectorOK bool, err error) {
	_, sErr := o.structured.GetMemoryUnit(ctx, unitID)
	structuredOK = sErr == nil

	vErr := error(nil)
	vectorOK, vErr = o.vector.Exists(ctx, unitID)
	if vErr != nil {
		return structuredOK, false, fmt.Errorf("orchestrator: vector existence check: %w", vErr)
	}
	return structuredOK, vectorOK, nil
}
