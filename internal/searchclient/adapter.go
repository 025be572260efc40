// Package searchclient turns search request parameters into a daemon query,
// runs it through the configured driver and keeps the last error and warning
// for diagnostics.
package searchclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/content"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/daemon"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/settings"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/tracing"
)

const testSearchTerm = "test search"

// Params are the user-facing search inputs.
type Params struct {
	Term        string
	SearchUsing string // any, all or exact
	Sort        string // relevance, date or title
	Page        int
	PerPage     int
	ShowPosts   int
}

// SettingsSource supplies the current daemon connection settings.
type SettingsSource interface {
	Get(ctx context.Context) settings.Config
}

// Options describe how the daemon index maps onto host records.
type Options struct {
	DefaultPerPage int
	DateAttribute  string
	TitleAttribute string
	// FallbackReserve is left on the request deadline after the daemon call
	// so the caller can still fall back to the host search.
	FallbackReserve time.Duration
}

// Adapter executes searches against a daemon driver.
type Adapter struct {
	driver   daemon.Driver
	settings SettingsSource
	opts     Options
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu          sync.Mutex
	lastError   string
	lastWarning string
}

// New creates an Adapter. m may be nil.
func New(driver daemon.Driver, src SettingsSource, opts Options, m *metrics.Metrics) *Adapter {
	if opts.DefaultPerPage < 1 {
		opts.DefaultPerPage = 10
	}
	if opts.DateAttribute == "" {
		opts.DateAttribute = "date_added"
	}
	if opts.TitleAttribute == "" {
		opts.TitleAttribute = "title"
	}
	return &Adapter{
		driver:   driver,
		settings: src,
		opts:     opts,
		metrics:  m,
		logger:   slog.Default().With("component", "search-client", "engine", driver.Name()),
	}
}

// Engine names the underlying driver.
func (a *Adapter) Engine() string { return a.driver.Name() }

// MatchMode maps a match strategy onto a daemon match mode.
func MatchMode(searchUsing string) daemon.MatchMode {
	switch searchUsing {
	case "all":
		return daemon.MatchAll
	case "exact":
		return daemon.MatchPhrase
	default:
		return daemon.MatchAny
	}
}

// PageWindow returns the clamped page, the effective page size and the
// offset of the page's first match.
func PageWindow(p Params, defaultPerPage int) (page, perPage, offset int) {
	perPage = max(p.PerPage, p.ShowPosts)
	if perPage < 1 {
		perPage = defaultPerPage
	}
	return content.PageWindow(p.Page, perPage)
}

// BuildQuery derives the daemon query for p under cfg.
func (a *Adapter) BuildQuery(p Params, cfg settings.Config) daemon.Query {
	_, perPage, offset := PageWindow(p, a.opts.DefaultPerPage)
	q := daemon.Query{
		Index:        cfg.Index,
		Term:         p.Term,
		Mode:         MatchMode(p.SearchUsing),
		Offset:       offset,
		Limit:        perPage,
		MaxQueryTime: time.Duration(cfg.Timeout) * time.Second,
	}
	switch p.Sort {
	case "date":
		q.Sort = daemon.SortAttrDesc
		q.SortAttr = a.opts.DateAttribute
	case "title":
		q.Sort = daemon.SortAttrAsc
		q.SortAttr = a.opts.TitleAttribute
	default:
		q.Sort = daemon.SortRelevance
	}
	return q
}

// Search runs one daemon query within the configured timeout, shortened so
// FallbackReserve remains before ctx's deadline. Any failure is returned as
// an error wrapping ErrDaemonUnavailable, ErrDaemonTimeout or
// ErrDaemonProtocol, and its text is kept as the last error.
func (a *Adapter) Search(ctx context.Context, p Params) (*daemon.Result, error) {
	cfg := a.settings.Get(ctx)
	q := a.BuildQuery(p, cfg)
	ep := daemon.Endpoint{Host: cfg.Server, Port: cfg.Port}

	ctx, span := tracing.StartChild(ctx, "daemon.query")
	span.SetAttr("engine", a.driver.Name())
	span.SetAttr("offset", q.Offset)
	span.SetAttr("limit", q.Limit)
	defer span.End()

	start := time.Now()
	// an abandoned driver call may still finish after the deadline; its
	// result goes to the buffered channel and is never read
	results := make(chan *daemon.Result, 1)
	budget := resilience.Budget{
		Limit:   time.Duration(cfg.Timeout) * time.Second,
		Reserve: a.opts.FallbackReserve,
	}
	err := budget.Run(ctx, "search daemon", func(ctx context.Context, limit time.Duration) error {
		sent := q
		if limit > 0 {
			sent.MaxQueryTime = limit
		}
		r, err := a.driver.Query(ctx, ep, sent)
		results <- r
		return err
	})
	var res *daemon.Result
	if err == nil {
		res = <-results
	}
	err = a.normalize(err, res)
	a.record(res, err)
	a.observe(start, err)

	log := logger.FromContext(ctx)
	if err != nil {
		span.SetAttr("error", err.Error())
		log.Debug("daemon query failed", "endpoint", ep.String(), "error", err)
		return nil, err
	}
	span.SetAttr("total", res.Total)
	log.Debug("daemon query ok",
		"endpoint", ep.String(),
		"total", res.Total,
		"matches", len(res.Matches),
		"duration", time.Since(start),
	)
	return res, nil
}

// normalize folds every failure shape into a daemon sentinel.
func (a *Adapter) normalize(err error, res *daemon.Result) error {
	switch {
	case err == nil && res == nil:
		return fmt.Errorf("%w: empty response", apperrors.ErrDaemonProtocol)
	case err == nil && res.Error != "":
		return fmt.Errorf("%w: %s", apperrors.ErrDaemonProtocol, res.Error)
	case err == nil:
		return nil
	case apperrors.IsDaemonFailure(err):
		return err
	case resilience.IsTimeout(err):
		return fmt.Errorf("%w: %v", apperrors.ErrDaemonTimeout, err)
	default:
		return fmt.Errorf("%w: %v", apperrors.ErrDaemonUnavailable, err)
	}
}

func (a *Adapter) record(res *daemon.Result, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastError = ""
	a.lastWarning = ""
	if err != nil {
		a.lastError = err.Error()
	}
	if res != nil {
		a.lastWarning = res.Warning
	}
}

func (a *Adapter) observe(start time.Time, err error) {
	if a.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, apperrors.ErrDaemonTimeout):
		status = "timeout"
	case err != nil:
		status = "error"
	}
	a.metrics.DaemonLatency.WithLabelValues(a.driver.Name(), status).Observe(time.Since(start).Seconds())
}

// LastError returns the error text of the most recent call, or "".
func (a *Adapter) LastError() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastError
}

// LastWarning returns the warning text of the most recent call, or "".
func (a *Adapter) LastWarning() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastWarning
}

// TestSettings runs a one-result test query with the current settings and
// returns the error text, or "" when the daemon answered.
func (a *Adapter) TestSettings(ctx context.Context) string {
	_, err := a.Search(ctx, Params{Term: testSearchTerm, PerPage: 1})
	result := "ok"
	msg := ""
	if err != nil {
		result = "error"
		msg = err.Error()
	}
	if a.metrics != nil {
		a.metrics.SettingsTestsTotal.WithLabelValues(result).Inc()
	}
	return msg
}
