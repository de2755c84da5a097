// Package config loads the engine's YAML configuration: global database and
// ordering policy, the set of chains to sync, and the handler-to-source
// bindings that drive event dispatch (YAML + .env interpolation).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ponderengine/core/internal/event"
)

// Config holds the YAML configuration.
type Config struct {
	Version  int             `yaml:"version"`
	Global   GlobalConfig    `yaml:"global"`
	Chains   []Chain         `yaml:"chains"`
	Handlers []HandlerConfig `yaml:"handlers"`
	Alert    *Alert          `yaml:"alert,omitempty"`
}

// Alert configures where a fatal engine condition (SPEC_FULL.md §7: deep
// reorg past every chain's finality window, or an unrecoverable handler
// error) is reported, in addition to the structured log line it always
// gets. Optional: a run with no alert block just skips the outbound send.
type Alert struct {
	Type       string `yaml:"type"` // "slack", "teams", or "webhook"
	WebhookURL string `yaml:"webhook_url"`
	URL        string `yaml:"url"`
	Method     string `yaml:"method"`
	Template   string `yaml:"template"`
}

// Validate checks the alert block, if one is configured.
func (a *Alert) Validate() error {
	switch strings.ToLower(a.Type) {
	case "slack", "teams":
		if a.WebhookURL == "" {
			return errors.New("webhook_url is required for slack/teams alerts")
		}
	case "webhook":
		if a.URL == "" {
			return errors.New("url is required for webhook alerts")
		}
	default:
		return fmt.Errorf("unsupported alert type: %s", a.Type)
	}
	return nil
}

// GlobalConfig holds settings that apply across every chain.
type GlobalConfig struct {
	Database      string `yaml:"database"`
	Ordering      string `yaml:"ordering"` // "omnichain" or "multichain"
	FinalityDepth uint64 `yaml:"finality_depth"`
	RedisURL      string `yaml:"redis_url"`
}

// Chain describes one chain to sync.
type Chain struct {
	ID            uint64   `yaml:"id"`
	Type          string   `yaml:"type"` // "evm" or "algorand"
	RPCURL        string   `yaml:"rpc_url"`
	WSURL         string   `yaml:"ws_url"`
	ABIDirs       []string `yaml:"abi_dirs"`
	FinalityDepth uint64   `yaml:"finality_depth"`
}

// SourceSpec is the declarative filter a handler is bound to: contract,
// account, or block-interval.
type SourceSpec struct {
	Type            string `yaml:"type"` // "contract", "account", "block"
	ChainID         uint64 `yaml:"chain_id"`
	ContractAddress string `yaml:"contract_address"`
	EventSignature  string `yaml:"event_signature"`
	Factory         bool   `yaml:"factory"`
	AccountAddress  string `yaml:"account_address"`
	BlockInterval   uint64 `yaml:"block_interval"`
}

// HandlerConfig binds a handler name to the Source it reacts to.
type HandlerConfig struct {
	Name   string     `yaml:"name"`
	Source SourceSpec `yaml:"source"`
}

// ToSource converts a SourceSpec into the event.Source the builder and
// chainsync matchers consume.
func (s SourceSpec) ToSource(name string) (event.Source, error) {
	src := event.Source{
		ChainID:         s.ChainID,
		Name:            name,
		ContractAddress: s.ContractAddress,
		EventSignature:  s.EventSignature,
		Factory:         s.Factory,
		AccountAddress:  s.AccountAddress,
		BlockInterval:   s.BlockInterval,
	}
	switch strings.ToLower(s.Type) {
	case "contract":
		src.Variant = event.SourceContract
	case "account":
		src.Variant = event.SourceAccount
	case "block":
		src.Variant = event.SourceBlock
	default:
		return event.Source{}, fmt.Errorf("unsupported source type: %s", s.Type)
	}
	return src, nil
}

// Sources converts every configured handler into an event.Source.
func (c *Config) Sources() ([]event.Source, error) {
	out := make([]event.Source, 0, len(c.Handlers))
	for _, h := range c.Handlers {
		src, err := h.Source.ToSource(h.Name)
		if err != nil {
			return nil, fmt.Errorf("handler %s: %w", h.Name, err)
		}
		out = append(out, src)
	}
	return out, nil
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

// Validate performs small, direct schema checks.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if len(c.Chains) == 0 {
		return errors.New("at least one chain is required")
	}
	if len(c.Handlers) == 0 {
		return errors.New("at least one handler is required")
	}

	chainIDs := map[uint64]struct{}{}
	for _, ch := range c.Chains {
		if _, exists := chainIDs[ch.ID]; exists {
			return fmt.Errorf("duplicate chain id: %d", ch.ID)
		}
		chainIDs[ch.ID] = struct{}{}
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("chain %d: %w", ch.ID, err)
		}
	}

	handlerNames := map[string]struct{}{}
	for _, h := range c.Handlers {
		if _, exists := handlerNames[h.Name]; exists {
			return fmt.Errorf("duplicate handler name: %s", h.Name)
		}
		handlerNames[h.Name] = struct{}{}
		if err := h.Validate(chainIDs); err != nil {
			return fmt.Errorf("handler %s: %w", h.Name, err)
		}
	}

	if c.Alert != nil {
		if err := c.Alert.Validate(); err != nil {
			return fmt.Errorf("alert: %w", err)
		}
	}

	return nil
}

func (ch *Chain) Validate() error {
	if ch.ID == 0 {
		return errors.New("id is required")
	}
	switch strings.ToLower(ch.Type) {
	case "evm":
		if ch.RPCURL == "" {
			return errors.New("rpc_url is required for evm chains")
		}
	case "algorand":
		if ch.RPCURL == "" {
			return errors.New("rpc_url (algod endpoint) is required for algorand chains")
		}
	default:
		return fmt.Errorf("unsupported chain type: %s", ch.Type)
	}
	return nil
}

func (h *HandlerConfig) Validate(chainIDs map[uint64]struct{}) error {
	if h.Name == "" {
		return errors.New("name is required")
	}
	if _, ok := chainIDs[h.Source.ChainID]; !ok {
		return fmt.Errorf("unknown chain_id: %d", h.Source.ChainID)
	}
	switch strings.ToLower(h.Source.Type) {
	case "contract":
		if h.Source.ContractAddress == "" && !h.Source.Factory {
			return errors.New("source.contract_address is required for contract sources unless factory is set")
		}
	case "account":
		// account_address may be empty (match all accounts).
	case "block":
		// block_interval may be zero (every block).
	default:
		return fmt.Errorf("unsupported source.type: %s", h.Source.Type)
	}
	return nil
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
