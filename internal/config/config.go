// Package config defines the server's configuration envelope (spec §6) and loads it
// from the environment, the way mcpsvr/config does with caarlos0/env.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
)

// TransportType selects the wire framing used to talk to the client.
type TransportType string

const (
	TransportStdio TransportType = "stdio"
	TransportHTTP  TransportType = "http"
	TransportSSE   TransportType = "sse"
)

// UIMode selects mode-variant tools (spec §4.3).
type UIMode string

const (
	UIModeDefault UIMode = "default"
	UIModeOpenAI  UIMode = "openai"
)

// TelemetryEnv picks the telemetry destination.
type TelemetryEnv string

const (
	TelemetryEnvProd TelemetryEnv = "prod"
	TelemetryEnvDev  TelemetryEnv = "dev"
)

// Selectors is the "tools"/"actors" selector-list shape of spec §4.3 & §6: nil means
// "unspecified" (fall back to defaults), a non-nil empty slice means "explicitly none".
type Selectors struct {
	Values []string
	Set    bool
}

// UnmarshalText lets Selectors be populated directly by env.Parse from a comma-separated
// env var, distinguishing "unset" from "set to empty".
func (s *Selectors) UnmarshalText(text []byte) error {
	s.Set = true
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		s.Values = []string{}
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	s.Values = out
	return nil
}

// Config is the server's configuration envelope (spec §6 "Configuration envelope").
type Config struct {
	TransportType TransportType `env:"TRANSPORT_TYPE" envDefault:"stdio"`

	TelemetryEnabled bool         `env:"TELEMETRY_ENABLED" envDefault:"true"`
	TelemetryEnv     TelemetryEnv `env:"TELEMETRY_ENV" envDefault:"prod"`

	UIMode UIMode `env:"UI_MODE" envDefault:"default"`

	SkyfireMode      bool `env:"SKYFIRE_MODE" envDefault:"false"`
	AllowUnauthMode  bool `env:"ALLOW_UNAUTH_MODE" envDefault:"false"`
	EnableAddingActors bool `env:"ENABLE_ADDING_ACTORS" envDefault:"false"`

	Tools  Selectors `env:"TOOLS"`
	Actors Selectors `env:"ACTORS"`

	APIToken   string `env:"APIFY_TOKEN"`
	APIBaseURL string `env:"API_BASE_URL" envDefault:"https://api.apify.com"`

	// ExternalTaskStore selects the multi-replica-safe Task Store backend (required for
	// non-stdio transports per spec §6). "azure-blob" is the only external backend shipped;
	// empty means "use the in-memory local store" (only valid for stdio).
	ExternalTaskStore string `env:"EXTERNAL_TASK_STORE"`
	AzureBlobURL      string `env:"AZURE_BLOB_URL"`
	AzuriteAccount    string `env:"AZURITE_ACCOUNT"`
	AzuriteKey        string `env:"AZURITE_KEY"`

	ToolCallTimeoutSeconds int `env:"TOOL_CALL_TIMEOUT_SECONDS" envDefault:"60"`

	PlatformMaxMemoryMbytes int `env:"PLATFORM_MAX_MEMORY_MBYTES" envDefault:"32768"`

	PreviewCharBudget int `env:"PREVIEW_CHAR_BUDGET" envDefault:"50000"`
}

func (c *Config) validate() error {
	switch c.TransportType {
	case TransportStdio, TransportHTTP, TransportSSE:
	default:
		return fmt.Errorf("unsupported transport type %q", c.TransportType)
	}
	if c.TransportType != TransportStdio && c.ExternalTaskStore == "" {
		return errors.New("a non-stdio transport requires an external task store (set EXTERNAL_TASK_STORE)")
	}
	if c.ExternalTaskStore == "azure-blob" {
		if c.AzureBlobURL == "" {
			return errors.New("EXTERNAL_TASK_STORE=azure-blob requires AZURE_BLOB_URL")
		}
		if c.AzuriteAccount != "" && c.AzuriteKey == "" {
			return errors.New("no key specified for Azurite account")
		}
	}
	switch c.UIMode {
	case UIModeDefault, UIModeOpenAI:
	default:
		return fmt.Errorf("unsupported ui mode %q", c.UIMode)
	}
	if !c.AllowUnauthMode && c.APIToken == "" {
		return errors.New("no Apify API token specified and ALLOW_UNAUTH_MODE is not set")
	}
	return nil
}

// Get returns the process-wide Config, parsing it from the environment on first call.
var Get = sync.OnceValue(func() *Config {
	cfg := &Config{}
	err := env.ParseWithOptions(cfg, env.Options{Prefix: "APIFY_MCP_"})
	if err == nil {
		err = cfg.validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
})
