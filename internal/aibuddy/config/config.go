// Package config loads the bot's tunable settings.
//
// Settings come from two places: an optional YAML file for operator-tunable
// knobs (persona, quota, model), and environment variables for everything
// secret or deployment-specific (tokens, homeserver, database path). The YAML
// file is validated against an embedded JSON schema before use so a typo'd
// key fails at startup rather than silently falling back to a default.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/bdobrica/aibuddy/common/environment"
	"github.com/bdobrica/aibuddy/internal/aibuddy/session"
)

//go:embed schema.json
var schemaJSON string

// DefaultPersona is the system instruction used when a session carries no
// persona override and the config file sets none.
const DefaultPersona = "You are AiBuddy, a friendly chatbot. Answer as concisely as possible but clarify what data you base your answers on."

// File holds the YAML-file settings. Zero values mean "use the default".
type File struct {
	Persona       string `yaml:"persona"`
	Quota         int    `yaml:"quota"`
	Model         string `yaml:"model"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	HTTPAddr      string `yaml:"http_addr"`
}

// Config is the fully resolved bot configuration.
type Config struct {
	// Matrix transport.
	Homeserver  string
	UserID      string
	AccessToken string
	Rooms       []string

	// Upstream LLM.
	OpenAIAPIKey  string
	OpenAIBaseURL string
	Model         string

	// Session engine.
	Persona string
	Quota   int

	// Ops.
	DatabasePath string
	HTTPAddr     string
}

// Load resolves the configuration: defaults, then the YAML file named by
// AIBUDDY_CONFIG (when set), then environment overrides. Returns an error
// when a required value is missing or the file fails schema validation.
func Load() (*Config, error) {
	cfg := &Config{
		Persona:      DefaultPersona,
		Quota:        session.DefaultQuota,
		DatabasePath: environment.StringOr("DATABASE_PATH", "./aibuddy.db"),
	}

	if path := os.Getenv("AIBUDDY_CONFIG"); path != "" {
		file, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		applyFile(cfg, file)
	}

	// Environment overrides and required values.
	var err error
	if cfg.Homeserver, err = environment.RequiredString("MATRIX_HOMESERVER"); err != nil {
		return nil, err
	}
	if cfg.UserID, err = environment.RequiredString("MATRIX_USER_ID"); err != nil {
		return nil, err
	}
	if cfg.AccessToken, err = environment.RequiredString("MATRIX_ACCESS_TOKEN"); err != nil {
		return nil, err
	}
	cfg.Rooms = environment.StringSliceOr("MATRIX_ROOMS", nil)
	if len(cfg.Rooms) == 0 {
		return nil, fmt.Errorf("required environment variable %q is not set", "MATRIX_ROOMS")
	}

	if cfg.OpenAIAPIKey, err = environment.RequiredString("OPENAI_API_KEY"); err != nil {
		return nil, err
	}
	cfg.OpenAIBaseURL = environment.StringOr("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.Model = environment.StringOr("OPENAI_MODEL", cfg.Model)

	cfg.Quota = environment.IntOr("AIBUDDY_QUOTA", cfg.Quota)
	cfg.HTTPAddr = environment.StringOr("HTTP_ADDR", cfg.HTTPAddr)

	return cfg, nil
}

// LoadFile reads and validates a YAML config file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config data and validates it against the embedded
// schema. It is the canonical entry point for loading file configuration.
func Parse(data []byte) (*File, error) {
	// Decode generically first so schema validation sees exactly what the
	// operator wrote, unknown keys included.
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if raw == nil {
		return &File{}, nil
	}

	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return &file, nil
}

// validateSchema checks the decoded document against the embedded JSON
// schema. The document is round-tripped through JSON first because the
// validator expects JSON-decoded value types (float64 numbers, string keys),
// not the ones yaml.v3 produces.
func validateSchema(doc any) error {
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config: normalize config file: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(jsonData, &normalized); err != nil {
		return fmt.Errorf("config: normalize config file: %w", err)
	}
	doc = normalized

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("config: load schema: %w", err)
	}
	schema, err := compiler.Compile("config.schema.json")
	if err != nil {
		return fmt.Errorf("config: compile schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("config: invalid config file: %w", err)
	}
	return nil
}

// applyFile copies non-zero file values onto cfg.
func applyFile(cfg *Config, file *File) {
	if file.Persona != "" {
		cfg.Persona = file.Persona
	}
	if file.Quota > 0 {
		cfg.Quota = file.Quota
	}
	if file.Model != "" {
		cfg.Model = file.Model
	}
	if file.OpenAIBaseURL != "" {
		cfg.OpenAIBaseURL = file.OpenAIBaseURL
	}
	if file.HTTPAddr != "" {
		cfg.HTTPAddr = file.HTTPAddr
	}
}
