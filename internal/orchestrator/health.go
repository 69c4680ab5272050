package orchestrator

import "context"

// Status is one component's health classification.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// ComponentHealth is one entry in Health's report.
type ComponentHealth struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Health probes every component with its own connectivity check and returns
// a per-component status map (spec.md §4.8 health, surfaced by C9's
// memory_health operation). A failing component is reported as down without
// failing the report for the others; the probes run one after another, so a
// slow component delays the probes after it.
func (o *Orchestrator) Health(ctx context.Context) map[string]ComponentHealth {
	report := make(map[string]ComponentHealth, 5)

	if err := o.structured.Ping(ctx); err != nil {
		report["structured_store"] = ComponentHealth{Status: StatusDown, Detail: err.Error()}
	} else {
		report["structured_store"] = ComponentHealth{Status: StatusOK}
	}

	if err := o.vector.Ping(ctx); err != nil {
		report["vector_store"] = ComponentHealth{Status: StatusDown, Detail: err.Error()}
	} else {
		report["vector_store"] = ComponentHealth{Status: StatusOK}
	}

	if o.gateway == nil {
		report["model_gateway"] = ComponentHealth{Status: StatusDown, Detail: "not initialised"}
	} else {
		report["model_gateway"] = ComponentHealth{Status: StatusOK}
	}

	pending, err := o.spool.Pending()
	switch {
	case err != nil:
		report["capture_queue"] = ComponentHealth{Status: StatusDegraded, Detail: err.Error()}
	case pending > queueBacklogWarnThreshold:
		report["capture_queue"] = ComponentHealth{Status: StatusDegraded, Detail: "backlog above threshold"}
	default:
		report["capture_queue"] = ComponentHealth{Status: StatusOK}
	}

	return report
}

// queueBacklogWarnThreshold flags the capture queue degraded once this many
// batches are waiting to drain, rather than only ever reporting ok/down.
const queueBacklogWarnThreshold = 500

// StatusReport is memory_status's payload (spec.md §6: "component states +
// counts") — Health's per-component map plus the one count this service can
// report without a dedicated stats table: the capture queue's backlog.
type StatusReport struct {
	Components  map[string]ComponentHealth `json:"components"`
	QueueDepth  int                        `json:"queue_depth"`
}

// Status implements memory_status. QueueDepth is -1 if the spool could not
// be read, so callers can distinguish "zero backlog" from "unknown".
func (o *Orchestrator) Status(ctx context.Context) StatusReport {
	depth, err := o.spool.Pending()
	if err != nil {
		depth = -1
	}
	return StatusReport{Components: o.Health(ctx), QueueDepth: depth}
}
