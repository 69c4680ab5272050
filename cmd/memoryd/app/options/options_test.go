package options

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestNewServerOptionsDefaultsValidate(t *testing.T) {
	o := NewServerOptions()
	if err := o.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if errs := o.Validate(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestValidateRejectsBothSurfacesDisabled(t *testing.T) {
	o := NewServerOptions()
	o.HTTPEnabled = false
	o.MCPEnabled = false
	errs := o.Validate()
	if len(errs) == 0 {
		t.Fatal("expected an error when both surfaces are disabled")
	}
}

func TestCompleteDerivesIngestURLFromHTTPAddr(t *testing.T) {
	o := NewServerOptions()
	o.HTTPAddr = ":9999"
	o.IngestURL = ""
	if err := o.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	want := "http://127.0.0.1:9999/conversation/store"
	if o.IngestURL != want {
		t.Fatalf("expected ingest url %q, got %q", want, o.IngestURL)
	}
}

func TestAddFlagsRegistersEveryComponent(t *testing.T) {
	o := NewServerOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	for _, name := range []string{
		"postgres.host", "redis.host", "milvus.address", "log.level",
		"embed.llm.provider", "chat.llm.provider",
		"http-enabled", "http-addr", "mcp-enabled",
		"spool-dir", "ingest-url",
		"diversity-threshold", "max-input-chars",
		"vector-dimension", "operation-timeout", "lock-stripes",
	} {
		if fs.Lookup(name) == nil {
			t.Errorf("expected flag %q to be registered", name)
		}
	}
}

func TestGatewayConfigMergesSharedProviderKind(t *testing.T) {
	o := NewServerOptions()
	o.Embed.Provider = "ollama"
	o.Embed.Model = "nomic-embed-text"
	o.Chat.Provider = "ollama"
	o.Chat.Model = "llama3"

	cfg := o.GatewayConfig()
	settings, ok := cfg.Providers["ollama"]
	if !ok {
		t.Fatal("expected a single merged settings entry for the shared ollama kind")
	}
	if settings.EmbedModel != "nomic-embed-text" {
		t.Errorf("expected embed model to survive the merge, got %q", settings.EmbedModel)
	}
	if settings.ChatModel != "llama3" {
		t.Errorf("expected chat model to survive the merge, got %q", settings.ChatModel)
	}
}

func TestGatewayConfigSeparateProvidersGetSeparateEntries(t *testing.T) {
	o := NewServerOptions()
	o.Embed.Provider = "ollama"
	o.Chat.Provider = "openai"

	cfg := o.GatewayConfig()
	if _, ok := cfg.Providers["ollama"]; !ok {
		t.Error("expected an ollama entry")
	}
	if _, ok := cfg.Providers["openai"]; !ok {
		t.Error("expected an openai entry")
	}
}

func TestOrchestratorConfigWiresQueueAndVector(t *testing.T) {
	o := NewServerOptions()
	o.Milvus.Address = "localhost:19530"
	o.VectorDimension = 768
	if err := o.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	cfg := o.OrchestratorConfig()
	if cfg.Vector.Dimension != 768 {
		t.Errorf("expected vector dimension 768, got %d", cfg.Vector.Dimension)
	}
	if cfg.Queue.SpoolDir != o.SpoolDir {
		t.Errorf("expected spool dir %q, got %q", o.SpoolDir, cfg.Queue.SpoolDir)
	}
	if cfg.Queue.Drainer == nil || cfg.Queue.Drainer.IngestURL != o.IngestURL {
		t.Errorf("expected drainer ingest url %q", o.IngestURL)
	}
}

func TestOrchestratorConfigOmitsRedisWhenCacheDisabled(t *testing.T) {
	o := NewServerOptions()
	o.CacheEnabled = false
	cfg := o.OrchestratorConfig()
	if cfg.Redis != nil {
		t.Error("expected nil Redis options when the cache is disabled")
	}
}
