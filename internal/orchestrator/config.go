package orchestrator

import (
	"time"

	goredisopts "github.com/kart-io/memoryd/pkg/component/redis"

	"github.com/kart-io/memoryd/internal/compressor"
	"github.com/kart-io/memoryd/internal/gateway"
	"github.com/kart-io/memoryd/internal/injector"
	"github.com/kart-io/memoryd/internal/queue"
	"github.com/kart-io/memoryd/pkg/component/postgres"
	"github.com/kart-io/memoryd/pkg/infra/tracing"
	"github.com/kart-io/memoryd/pkg/llm/resilience"
	"github.com/kart-io/memoryd/pkg/security/authz"
)

// VectorConfig configures the Vector Store client (C3).
type VectorConfig struct {
	Address    string
	Username   string
	Password   string
	Database   string
	Dimension  int
	Timeout    time.Duration
}

// QueueConfig configures the Capture Queue (C4).
type QueueConfig struct {
	SpoolDir string
	Drainer  *queue.DrainerConfig
	// Capacity bounds the drainer's in-flight POST concurrency.
	Capacity int
}

// RetrieverConfig holds Stage D default settings for search requests. The
// orchestrator does not read it: a request that leaves Policy or
// HalfLifeDays unset gets the Retriever's own defaults (relevance_time,
// τ = 30 days).
type RetrieverConfig struct {
	DefaultPolicy       string
	DefaultHalfLifeDays float64
}

// Config bundles every component's configuration into the single object
// the orchestrator's phased init consumes (SPEC_FULL.md §4.8). No
// package-level viper reads exist anywhere downstream of this type —
// cmd/memoryd is solely responsible for populating it.
type Config struct {
	Postgres   *postgres.Options
	Redis      *goredisopts.Options // nil disables the Gateway's L2 embedding cache
	Gateway    *gateway.Config
	Vector     VectorConfig
	Queue      QueueConfig
	Compressor *compressor.Config
	Injector   *injector.Config
	Retriever  RetrieverConfig

	// InitRetry tunes each Phase's retry-then-rollback-then-fatal-error
	// wrapping (spec.md §4.8: "3 attempts, exponential backoff starting at
	// 1s"). Nil uses DefaultInitRetry.
	InitRetry *resilience.RetryConfig

	// OperationTimeout is the default deadline applied to a public
	// operation call when the caller's context carries none (spec §5:
	// "every public operation accepts a cancellation signal with a
	// deadline (default 30s)").
	OperationTimeout time.Duration

	// LockStripes is the per-conversation lock table size. Zero uses
	// defaultLockStripes.
	LockStripes int

	// Authz gates per-project read access for cross_project_search (spec.md
	// §6, §4.6). Nil allows every project — the single-tenant default.
	Authz authz.Authorizer

	// Tracing configures the OpenTelemetry tracer provider spans are
	// recorded against throughout the retrieval stages and the
	// compensating write path. Nil disables tracing (a no-op provider).
	Tracing *tracing.Options
}

// DefaultInitRetry matches spec.md §4.8's phased-init retry policy.
func DefaultInitRetry() *resilience.RetryConfig {
	return &resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		RetryableErrors: func(error) bool { return true },
	}
}

const defaultOperationTimeout = 30 * time.Second

const defaultLockStripes = 64

// unitCacheTTL bounds how long the retriever's per-hit structured-store
// lookups are cached before a divergence (expiry, edit) is reflected.
const unitCacheTTL = 2 * time.Minute
