// Package options contains flags and options for initializing memoryd.
//
// cmd/rag/app/options.ServerOptions is this package's model — same
// aggregate-per-component-Options shape, same NewServerOptions/AddFlags/
// Complete/Validate method names — but it is built directly against
// *pflag.FlagSet rather than through pkg/app/cliflag.NamedFlagSets: that
// package does not exist anywhere in this tree (cmd/rag/app/options.go
// imports it, and separately imports k8s.io/apimachinery/pkg/util/errors,
// a module absent from go.mod — cmd/rag's own entrypoint does not build).
// pkg/infra/app.App has the same problem one layer up: it imports
// pkg/options/app for a CliOptions interface that was never added to this
// tree. Both breakages predate this package; seeing a command wired through
// pkg/infra/app elsewhere in this codebase is not evidence that path
// builds. This package bypasses both and drives cobra directly (see
// cmd/memoryd/app.NewCommand), the way app.App would if it could construct.
package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/memoryd/internal/compressor"
	"github.com/kart-io/memoryd/internal/gateway"
	"github.com/kart-io/memoryd/internal/injector"
	"github.com/kart-io/memoryd/internal/orchestrator"
	"github.com/kart-io/memoryd/internal/queue"
	surfacehttp "github.com/kart-io/memoryd/internal/surface/http"
	"github.com/kart-io/memoryd/pkg/infra/tracing"
	llmopts "github.com/kart-io/memoryd/pkg/options/llm"
	logopts "github.com/kart-io/memoryd/pkg/options/logger"
	milvusopts "github.com/kart-io/memoryd/pkg/options/milvus"
	pgopts "github.com/kart-io/memoryd/pkg/options/postgres"
	redisopts "github.com/kart-io/memoryd/pkg/options/redis"
	"github.com/kart-io/memoryd/pkg/security/authz"
	"github.com/kart-io/memoryd/pkg/security/authz/rbac"
)

// ServerOptions aggregates every component's flag-bindable options plus
// the surface-selection and tuning knobs cmd/memoryd needs that have no
// existing pkg/options/* home.
type ServerOptions struct {
	Postgres *pgopts.Options          `json:"postgres" mapstructure:"postgres"`
	Redis    *redisopts.Options       `json:"redis" mapstructure:"redis"`
	Milvus   *milvusopts.Options      `json:"milvus" mapstructure:"milvus"`
	Log      *logopts.Options         `json:"log" mapstructure:"log"`
	Embed    *llmopts.ProviderOptions `json:"embed" mapstructure:"embed"`
	Chat     *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`

	// CacheEnabled gates the Gateway's L2 redis embedding cache. When
	// false, Redis is never dialed and orchestrator.Config.Redis is nil.
	CacheEnabled bool `json:"cache-enabled" mapstructure:"cache-enabled"`

	// HTTPEnabled/MCPEnabled select which of C9's two surfaces run. Both
	// may run together against the same Orchestrator.
	HTTPEnabled bool   `json:"http-enabled" mapstructure:"http-enabled"`
	HTTPAddr    string `json:"http-addr" mapstructure:"http-addr"`
	MCPEnabled  bool   `json:"mcp-enabled" mapstructure:"mcp-enabled"`

	// SpoolDir/IngestURL/QueueCapacity configure the Capture Queue (C4).
	// IngestURL defaults to HTTPAddr's own /conversation/store so a
	// single-process deployment drains into itself.
	SpoolDir      string `json:"spool-dir" mapstructure:"spool-dir"`
	IngestURL     string `json:"ingest-url" mapstructure:"ingest-url"`
	QueueCapacity int    `json:"queue-capacity" mapstructure:"queue-capacity"`

	DiversityThreshold float64 `json:"diversity-threshold" mapstructure:"diversity-threshold"`
	TokenBudget        int     `json:"token-budget" mapstructure:"token-budget"`
	FusionEnabled      bool    `json:"fusion-enabled" mapstructure:"fusion-enabled"`

	MaxInputChars int `json:"max-input-chars" mapstructure:"max-input-chars"`
	ChunkOverlap  int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	VectorDimension int `json:"vector-dimension" mapstructure:"vector-dimension"`

	OperationTimeout time.Duration `json:"operation-timeout" mapstructure:"operation-timeout"`
	LockStripes      int           `json:"lock-stripes" mapstructure:"lock-stripes"`
	ShutdownTimeout  time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`

	// AuthzEnabled gates cross_project_search's permission layer (spec.md
	// §6). Disabled by default, matching the single-tenant "every project
	// readable" default orchestrator.Config.Authz documents for a nil
	// Authorizer.
	AuthzEnabled bool `json:"authz-enabled" mapstructure:"authz-enabled"`
	// AuthzSubjects lists the subjects granted the default read role.
	AuthzSubjects []string `json:"authz-subjects" mapstructure:"authz-subjects"`
	// AuthzProjects restricts the default role's read permission to these
	// project ids; empty grants read on every project.
	AuthzProjects []string      `json:"authz-projects" mapstructure:"authz-projects"`
	AuthzCacheTTL time.Duration `json:"authz-cache-ttl" mapstructure:"authz-cache-ttl"`

	Tracing *tracing.Options `json:"tracing" mapstructure:"tracing"`
}

// NewServerOptions returns the defaults named in SPEC_FULL.md §4.1/§4.8:
// both surfaces on, a 1536-dim embedding space, fusion off, unbounded
// injection budget.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		Postgres: pgopts.NewOptions(),
		Redis:    redisopts.NewOptions(),
		Milvus:   milvusopts.NewOptions(),
		Log:      logopts.NewOptions(),
		Embed:    llmopts.NewEmbeddingOptions(),
		Chat:     llmopts.NewChatOptions(),

		CacheEnabled: true,

		HTTPEnabled: true,
		HTTPAddr:    ":8085",
		MCPEnabled:  true,

		SpoolDir:      "./data/capture-queue",
		QueueCapacity: 4,

		DiversityThreshold: 0.7,
		TokenBudget:        0,
		FusionEnabled:      false,

		MaxInputChars: 12000,
		ChunkOverlap:  200,

		VectorDimension: 1536,

		OperationTimeout: 30 * time.Second,
		LockStripes:      64,
		ShutdownTimeout:  15 * time.Second,

		AuthzEnabled:  false,
		AuthzCacheTTL: 30 * time.Second,

		Tracing: tracing.NewOptions(),
	}
}

// AddFlags registers every component's flags on fs, prefixing the LLM
// provider options by slot (embed./chat.) the same way cmd/rag's options
// prefix embedding./chat. onto the shared llmopts.ProviderOptions type.
func (o *ServerOptions) AddFlags(fs *pflag.FlagSet) {
	o.Postgres.AddFlags(fs)
	o.Redis.AddFlags(fs)
	o.Milvus.AddFlags(fs)
	o.Log.AddFlags(fs)
	o.Embed.AddFlags(fs, "embed.")
	o.Chat.AddFlags(fs, "chat.")

	// These bind flat fields on ServerOptions itself (not a nested component
	// Options), so the flag name matches each field's mapstructure tag
	// exactly — unlike the dotted prefixes above, which name a *nested*
	// struct and rely on viper's dot-as-nesting Unmarshal behavior.
	fs.BoolVar(&o.CacheEnabled, "cache-enabled", o.CacheEnabled, "Enable the Gateway's redis-backed embedding cache.")
	fs.BoolVar(&o.HTTPEnabled, "http-enabled", o.HTTPEnabled, "Serve the HTTP surface (conversation/store, memory/search, memory/inject).")
	fs.StringVar(&o.HTTPAddr, "http-addr", o.HTTPAddr, "HTTP surface listen address.")
	fs.BoolVar(&o.MCPEnabled, "mcp-enabled", o.MCPEnabled, "Serve the MCP stdio surface.")

	fs.StringVar(&o.SpoolDir, "spool-dir", o.SpoolDir, "Capture queue spool directory.")
	fs.StringVar(&o.IngestURL, "ingest-url", o.IngestURL, "Capture queue drainer target URL (defaults to the local HTTP surface's /conversation/store).")
	fs.IntVar(&o.QueueCapacity, "queue-capacity", o.QueueCapacity, "Capture queue drainer in-flight POST concurrency.")

	fs.Float64Var(&o.DiversityThreshold, "diversity-threshold", o.DiversityThreshold, "Max keyword-overlap Jaccard similarity before a candidate is rejected.")
	fs.IntVar(&o.TokenBudget, "token-budget", o.TokenBudget, "Injected context token budget (0 = unbounded).")
	fs.BoolVar(&o.FusionEnabled, "fusion-enabled", o.FusionEnabled, "Enable LLM consolidation of injected results.")

	fs.IntVar(&o.MaxInputChars, "max-input-chars", o.MaxInputChars, "Transcript character budget before chunking.")
	fs.IntVar(&o.ChunkOverlap, "chunk-overlap", o.ChunkOverlap, "Character overlap between adjacent transcript chunks.")

	fs.IntVar(&o.VectorDimension, "vector-dimension", o.VectorDimension, "Embedding vector dimension.")

	fs.DurationVar(&o.OperationTimeout, "operation-timeout", o.OperationTimeout, "Default deadline applied to a public operation when its context carries none.")
	fs.IntVar(&o.LockStripes, "lock-stripes", o.LockStripes, "Per-conversation lock table size.")
	fs.DurationVar(&o.ShutdownTimeout, "shutdown-timeout", o.ShutdownTimeout, "Graceful shutdown timeout.")

	fs.BoolVar(&o.AuthzEnabled, "authz-enabled", o.AuthzEnabled, "Enable the RBAC permission layer for cross_project_search.")
	fs.StringSliceVar(&o.AuthzSubjects, "authz-subject", o.AuthzSubjects, "Subject granted the default read role (repeatable).")
	fs.StringSliceVar(&o.AuthzProjects, "authz-project", o.AuthzProjects, "Project id the default role may read; omit to allow every project (repeatable).")
	fs.DurationVar(&o.AuthzCacheTTL, "authz-cache-ttl", o.AuthzCacheTTL, "How long a cross_project_search authorization decision is cached.")

	o.Tracing.AddFlags(fs)
}

// Complete fills in defaults that depend on other fields (e.g. the
// drainer's ingest URL), then delegates to each component's own Complete.
func (o *ServerOptions) Complete() error {
	if o.IngestURL == "" {
		o.IngestURL = "http://127.0.0.1" + o.HTTPAddr + "/conversation/store"
	}
	if err := o.Postgres.Complete(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := o.Redis.Complete(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := o.Embed.Complete(); err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if err := o.Chat.Complete(); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	if err := o.Tracing.Complete(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	return nil
}

// Validate aggregates every component's []error into one slice, the plain
// equivalent of cmd/rag's utilerrors.NewAggregate (unavailable here: that
// helper comes from k8s.io/apimachinery, not a dependency of this module).
func (o *ServerOptions) Validate() []error {
	var errs []error
	errs = append(errs, o.Postgres.Validate()...)
	if o.CacheEnabled {
		errs = append(errs, o.Redis.Validate()...)
	}
	errs = append(errs, o.Milvus.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	errs = append(errs, o.Embed.Validate()...)
	errs = append(errs, o.Chat.Validate()...)

	if !o.HTTPEnabled && !o.MCPEnabled {
		errs = append(errs, fmt.Errorf("at least one of http-enabled or mcp-enabled must be true"))
	}
	if o.LockStripes <= 0 {
		errs = append(errs, fmt.Errorf("lock-stripes must be positive"))
	}
	if err := o.Tracing.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// providerSettings maps a pkg/options/llm.ProviderOptions slot onto the
// typed gateway.ProviderSettings shape the Gateway actually consumes.
// ProviderOptions.ToConfigMap is not used here: it targets a string-keyed
// config-map provider factory this tree's gateway package does not have
// (REDESIGN FLAG (c) replaced it with the closed ProviderKind/
// ProviderSettings pair), so this method reads the same flag-bound fields
// ToConfigMap does and shapes them for gateway.New instead.
func providerSettings(o *llmopts.ProviderOptions) gateway.ProviderSettings {
	return gateway.ProviderSettings{
		Kind:         gateway.ProviderKind(o.Provider),
		BaseURL:      o.BaseURL,
		APIKey:       o.APIKey,
		EmbedModel:   o.Model,
		ChatModel:    o.Model,
		RerankModel:  o.Model,
		Timeout:      o.Timeout,
		MaxRetries:   o.MaxRetries,
		Organization: o.Organization,
	}
}

// GatewayConfig builds the Model Gateway configuration (C1). The chat
// provider also serves rerank (SPEC_FULL.md §4.1 names no separate rerank
// credential; providers that support chat generally support rerank-by-
// prompt too).
func (o *ServerOptions) GatewayConfig() *gateway.Config {
	cfg := gateway.DefaultConfig()

	embedKind := gateway.ProviderKind(o.Embed.Provider)
	chatKind := gateway.ProviderKind(o.Chat.Provider)

	embed := providerSettings(o.Embed)
	chat := providerSettings(o.Chat)

	if embedKind == chatKind {
		// One deployment, one set of credentials: merge rather than let
		// the second assignment below silently clobber the first slot's
		// EmbedModel/ChatModel (every gateway provider builder reads both
		// fields off a single ProviderSettings for its kind).
		merged := chat
		merged.EmbedModel = embed.EmbedModel
		cfg.Providers[embedKind] = merged
	} else {
		cfg.Providers[embedKind] = embed
		cfg.Providers[chatKind] = chat
	}

	cfg.EmbedPrimary = embedKind
	cfg.ChatPrimary = chatKind
	cfg.RerankPrimary = chatKind

	if !o.CacheEnabled {
		cfg.EmbeddingCache = nil
	}
	return cfg
}

// AuthzConfig builds the cross_project_search permission layer (spec.md
// §6). Returns nil (the single-tenant "every project readable" default)
// unless --authz-enabled is set, in which case it assigns a single
// "default" role — scoped to AuthzProjects, or every project if that list
// is empty — to every subject in AuthzSubjects, wrapped in a TTL cache so
// repeated cross-project searches from the same subject don't re-walk the
// role graph every call.
func (o *ServerOptions) AuthzConfig() authz.Authorizer {
	if !o.AuthzEnabled {
		return nil
	}

	var perms []authz.Permission
	if len(o.AuthzProjects) == 0 {
		perms = append(perms, authz.NewPermission("*", "read"))
	} else {
		for _, project := range o.AuthzProjects {
			perms = append(perms, authz.NewPermission(project, "read"))
		}
	}

	r := rbac.New()
	_ = r.AddRole("default", perms...)
	for _, subject := range o.AuthzSubjects {
		_ = r.AssignRole(subject, "default")
	}

	return authz.NewCachedAuthorizer(r, authz.WithCacheTTL(o.AuthzCacheTTL))
}

// OrchestratorConfig assembles the Service Orchestrator's Config (C8) from
// every component's options, the single place package-level flag values
// become the typed Config orchestrator.Init consumes.
func (o *ServerOptions) OrchestratorConfig() *orchestrator.Config {
	var redisOpts *redisopts.Options
	if o.CacheEnabled {
		redisOpts = o.Redis
	}

	return &orchestrator.Config{
		Postgres: o.Postgres,
		Redis:    redisOpts,
		Gateway:  o.GatewayConfig(),
		Vector: orchestrator.VectorConfig{
			Address:   o.Milvus.Address,
			Username:  o.Milvus.Username,
			Password:  o.Milvus.Password,
			Database:  o.Milvus.Database,
			Dimension: o.VectorDimension,
			Timeout:   o.Milvus.Timeout,
		},
		Queue: orchestrator.QueueConfig{
			SpoolDir: o.SpoolDir,
			Drainer:  queue.DefaultDrainerConfig(o.IngestURL),
			Capacity: o.QueueCapacity,
		},
		Compressor: &compressor.Config{
			MaxInputChars: o.MaxInputChars,
			ChunkOverlap:  o.ChunkOverlap,
			EmbedModel:    o.Embed.Model,
		},
		Injector: &injector.Config{
			DiversityThreshold: o.DiversityThreshold,
			TokenBudget:        o.TokenBudget,
			FusionEnabled:      o.FusionEnabled,
		},
		OperationTimeout: o.OperationTimeout,
		LockStripes:      o.LockStripes,
		Authz:            o.AuthzConfig(),
		Tracing:          o.Tracing,
	}
}

// HTTPConfig builds the HTTP surface's listener configuration (C9).
func (o *ServerOptions) HTTPConfig() *surfacehttp.Config {
	cfg := surfacehttp.DefaultConfig(o.HTTPAddr)
	return cfg
}
