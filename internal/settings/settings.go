// Package settings provides the daemon connection settings that the admin
// page edits at runtime. The settings are kept as a single JSON blob in a
// Store; reads never fail and fall back to defaults key by key.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/errors"
)

const (
	DefaultServer  = "127.0.0.1"
	DefaultPort    = 9312
	DefaultIndex   = "*"
	DefaultTimeout = 15
)

// loadTimeout bounds a shared store read. The read is detached from the
// caller that happened to start it, since other callers wait on its result.
const loadTimeout = 5 * time.Second

// Config is the effective daemon connection configuration.
type Config struct {
	Server string `json:"server"`
	Port   int    `json:"port"`
	Index  string `json:"index"`
	// Timeout is in seconds.
	Timeout int `json:"timeout"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server:  DefaultServer,
		Port:    DefaultPort,
		Index:   DefaultIndex,
		Timeout: DefaultTimeout,
	}
}

// Patch carries admin-submitted values. Nil fields are left as stored.
type Patch struct {
	Server  *string
	Port    *string
	Index   *string
	Timeout *string
}

// Store persists the raw settings blob.
type Store interface {
	// Load returns the stored blob, or nil when nothing is stored.
	Load(ctx context.Context) ([]byte, error)
	// Update atomically replaces the blob with fn(current). current is nil
	// or an empty object when nothing is stored yet.
	Update(ctx context.Context, fn func(current []byte) ([]byte, error)) error
	// Delete removes the blob.
	Delete(ctx context.Context) error
}

// Provider reads and writes settings through a Store.
type Provider struct {
	store  Store
	group  singleflight.Group
	logger *slog.Logger
}

func NewProvider(store Store) *Provider {
	return &Provider{
		store:  store,
		logger: slog.Default().With("component", "settings"),
	}
}

// Get returns the effective configuration. Store errors and malformed blobs
// are logged and replaced by defaults; Get itself never fails.
func (p *Provider) Get(ctx context.Context) Config {
	v, _, _ := p.group.Do("load", func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		raw, err := p.store.Load(loadCtx)
		if err != nil {
			p.logger.Warn("loading settings failed, using defaults", "error", err)
			return Defaults(), nil
		}
		cfg, err := Decode(raw)
		if err != nil {
			p.logger.Warn("stored settings malformed, using defaults", "error", err)
		}
		return cfg, nil
	})
	return v.(Config)
}

// Set merges patch into the stored blob and returns the resulting effective
// configuration.
func (p *Provider) Set(ctx context.Context, patch Patch) (Config, error) {
	var next []byte
	err := p.store.Update(ctx, func(current []byte) ([]byte, error) {
		fields := map[string]any{}
		if len(current) > 0 {
			if err := json.Unmarshal(current, &fields); err != nil {
				p.logger.Warn("discarding malformed stored settings", "error", err)
				fields = map[string]any{}
			}
		}
		if patch.Server != nil {
			fields["server"] = *patch.Server
		}
		if patch.Port != nil {
			fields["port"] = *patch.Port
		}
		if patch.Index != nil {
			fields["index"] = *patch.Index
		}
		if patch.Timeout != nil {
			fields["timeout"] = CoerceTimeout(*patch.Timeout)
		}
		b, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("encoding settings: %w", err)
		}
		next = b
		return b, nil
	})
	if err != nil {
		return Config{}, fmt.Errorf("saving settings: %w", err)
	}
	p.group.Forget("load")
	cfg, _ := Decode(next)
	p.logger.Info("settings updated",
		"server", cfg.Server,
		"port", cfg.Port,
		"index", cfg.Index,
		"timeout", cfg.Timeout,
	)
	return cfg, nil
}

// Uninstall deletes the stored settings entirely.
func (p *Provider) Uninstall(ctx context.Context) error {
	if err := p.store.Delete(ctx); err != nil {
		return fmt.Errorf("deleting settings: %w", err)
	}
	p.group.Forget("load")
	p.logger.Info("settings removed")
	return nil
}

// Decode overlays a stored blob on the defaults. Every key that is missing or
// unusable keeps its default. The returned error wraps ErrConfig when the
// blob is not a JSON object at all; the Config is usable either way.
func Decode(raw []byte) (Config, error) {
	cfg := Defaults()
	if len(raw) == 0 {
		return cfg, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return cfg, fmt.Errorf("%w: %v", apperrors.ErrConfig, err)
	}

	if s, ok := stringField(fields["server"]); ok && s != "" {
		cfg.Server = s
	}
	if n, ok := intField(fields["port"]); ok && n > 0 && n <= 65535 {
		cfg.Port = n
	}
	if s, ok := stringField(fields["index"]); ok && s != "" {
		cfg.Index = s
	}
	if n, ok := intField(fields["timeout"]); ok && n > 0 {
		cfg.Timeout = n
	}
	return cfg, nil
}

// CoerceTimeout reads the leading integer of s, as a form field would be
// read, and falls back to DefaultTimeout when none is found or it is not
// positive.
func CoerceTimeout(s string) int {
	if n := leadingInt(s); n > 0 {
		return n
	}
	return DefaultTimeout
}

func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

func stringField(raw json.RawMessage) (string, bool) {
	if raw == nil {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return strings.TrimSpace(s), true
}

// intField accepts a JSON number or a numeric string.
func intField(raw json.RawMessage) (int, bool) {
	if raw == nil {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return n, true
}
