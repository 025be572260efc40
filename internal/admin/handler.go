// Package admin serves the daemon connection settings page: reading the
// current settings with a fresh nonce, and saving submitted values followed
// by a test search against the daemon.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/admin/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/settings"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/logger"
)

const savedMessage = "Settings saved."

// Form field names accepted by Save.
const (
	fieldServer  = "sphinx_server"
	fieldPort    = "sphinx_port"
	fieldIndex   = "sphinx_index"
	fieldTimeout = "sphinx_timeout"
	fieldNonce   = "sphinx_nonce"
)

// SettingsService reads and writes daemon connection settings.
// *settings.Provider satisfies it.
type SettingsService interface {
	Get(ctx context.Context) settings.Config
	Set(ctx context.Context, patch settings.Patch) (settings.Config, error)
}

// Tester runs a test search and returns the daemon error text, or "".
type Tester interface {
	TestSettings(ctx context.Context) string
}

type Handler struct {
	settings SettingsService
	tester   Tester
	nonces   *Nonces
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
}

// New creates the admin handler. tester is nil when no daemon is configured;
// limiter may be nil to disable throttling.
func New(svc SettingsService, tester Tester, nonces *Nonces, limiter *ratelimit.Limiter) *Handler {
	return &Handler{
		settings: svc,
		tester:   tester,
		nonces:   nonces,
		limiter:  limiter,
		logger:   slog.Default().With("component", "admin-handler"),
	}
}

type settingsView struct {
	Server  string `json:"server"`
	Port    int    `json:"port"`
	Index   string `json:"index"`
	Timeout int    `json:"timeout"`
}

func view(cfg settings.Config) settingsView {
	return settingsView{Server: cfg.Server, Port: cfg.Port, Index: cfg.Index, Timeout: cfg.Timeout}
}

type getResponse struct {
	Settings settingsView `json:"settings"`
	Nonce    string       `json:"nonce"`
}

type saveResponse struct {
	Updated  bool         `json:"updated"`
	Message  string       `json:"message"`
	Error    string       `json:"error,omitempty"`
	Settings settingsView `json:"settings"`
	Nonce    string       `json:"nonce"`
}

// Register mounts the settings routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/search/settings", h.Get)
	mux.HandleFunc("POST /admin/search/settings", h.Save)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	cfg := h.settings.Get(r.Context())
	h.writeJSON(w, http.StatusOK, getResponse{
		Settings: view(cfg),
		Nonce:    h.nonces.Create(SaveAction),
	})
}

func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	if h.limiter != nil && !h.limiter.Allow(clientIP(r)) {
		w.Header().Set("Retry-After", "60")
		h.writeAppError(w, apperrors.New(apperrors.ErrRateLimited, http.StatusTooManyRequests, "too many settings submissions"))
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeAppError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "malformed form body"))
		return
	}
	if !h.nonces.Verify(r.PostForm.Get(fieldNonce), SaveAction) {
		log.Warn("settings submission rejected", "reason", "invalid nonce", "client", clientIP(r))
		h.writeAppError(w, apperrors.New(apperrors.ErrUnauthorized, http.StatusForbidden, "invalid or expired nonce"))
		return
	}

	cfg, err := h.settings.Set(ctx, patchFromForm(r))
	if err != nil {
		log.Error("saving settings failed", "error", err)
		h.writeAppError(w, apperrors.New(apperrors.ErrInternal, http.StatusInternalServerError, "saving settings failed"))
		return
	}

	resp := saveResponse{
		Updated:  true,
		Message:  savedMessage,
		Settings: view(cfg),
		Nonce:    h.nonces.Create(SaveAction),
	}
	if h.tester != nil {
		if msg := h.tester.TestSettings(ctx); msg != "" {
			resp.Error = "Sphinx Error: " + msg
			log.Warn("saved settings failed the test search", "error", msg)
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// patchFromForm takes each field that was submitted, including empty ones.
func patchFromForm(r *http.Request) settings.Patch {
	field := func(name string) *string {
		if _, ok := r.PostForm[name]; !ok {
			return nil
		}
		v := r.PostForm.Get(name)
		return &v
	}
	return settings.Patch{
		Server:  field(fieldServer),
		Port:    field(fieldPort),
		Index:   field(fieldIndex),
		Timeout: field(fieldTimeout),
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeAppError(w http.ResponseWriter, err *apperrors.AppError) {
	h.writeJSON(w, apperrors.HTTPStatusCode(err), map[string]string{"error": err.Message})
}
