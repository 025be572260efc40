// Package interceptor rewrites search requests into fetch-by-ID requests
// ranked by the search daemon. When the daemon cannot answer, the request is
// left exactly as it arrived and the host's native search runs instead.
package interceptor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/content"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/daemon"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/searchclient"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/tracing"
)

// relevanceSort marks a request as ranked by match quality.
const relevanceSort = "match"

// Searcher runs daemon searches. *searchclient.Adapter satisfies it.
type Searcher interface {
	Search(ctx context.Context, p searchclient.Params) (*daemon.Result, error)
	LastError() string
	Engine() string
}

// Tracker receives one event per handled search.
type Tracker interface {
	Track(ev analytics.SearchEvent)
}

// Interceptor is a content.ParseStage.
type Interceptor struct {
	searcher    Searcher
	idAttribute string
	metrics     *metrics.Metrics
	tracker     Tracker
	logger      *slog.Logger
}

type Option func(*Interceptor)

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Interceptor) { i.metrics = m }
}

func WithTracker(t Tracker) Option {
	return func(i *Interceptor) { i.tracker = t }
}

// New creates an Interceptor. A nil searcher means no daemon is available
// and every request passes through untouched. idAttribute names the match
// attribute carrying the record ID; empty uses the daemon document ID.
func New(searcher Searcher, idAttribute string, opts ...Option) *Interceptor {
	i := &Interceptor{
		searcher:    searcher,
		idAttribute: idAttribute,
		logger:      slog.Default().With("component", "interceptor"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// displaySort holds the sort fields written back on success.
type displaySort struct {
	sort    string
	orderBy string
	order   string
}

// normalizeSort maps a sort hint onto the host's display ordering.
func normalizeSort(req *content.Request) displaySort {
	switch req.Sort {
	case "date":
		return displaySort{sort: req.Sort, orderBy: "date", order: "DESC"}
	case "title":
		return displaySort{sort: req.Sort, orderBy: "title", order: "ASC"}
	default:
		return displaySort{sort: relevanceSort, orderBy: req.OrderBy, order: req.Order}
	}
}

// Parse is the parse stage. It performs at most one daemon call.
func (i *Interceptor) Parse(ctx context.Context, req *content.Request) {
	if !req.IsSearch {
		return
	}
	if i.searcher == nil {
		i.count(metrics.OutcomeSkipped)
		return
	}

	ctx, span := tracing.StartChild(ctx, "interceptor")
	defer span.End()

	ds := normalizeSort(req)
	start := time.Now()
	res, err := i.searcher.Search(ctx, searchclient.Params{
		Term:        req.Term,
		SearchUsing: req.SearchUsing,
		Sort:        ds.sort,
		Page:        req.Page,
		PerPage:     req.PerPage,
		ShowPosts:   req.ShowPosts,
	})
	var ids []int64
	if err == nil {
		ids, err = i.targetIDs(res)
	}
	if err != nil {
		i.fallback(ctx, req, err, time.Since(start))
		span.SetAttr("outcome", metrics.OutcomeFallback)
		return
	}

	req.Sort, req.OrderBy, req.Order = ds.sort, ds.orderBy, ds.order
	req.Reconciliation = &content.Reconciliation{
		Term:  req.Term,
		Page:  req.Page,
		Total: res.Total,
	}
	req.Term = ""
	req.Page = 0
	req.IDs = ids

	outcome := metrics.OutcomeIntercepted
	if res.Total == 0 {
		outcome = metrics.OutcomeZeroResult
	}
	span.SetAttr("outcome", outcome)
	span.SetAttr("total", res.Total)
	i.count(outcome)
	if i.metrics != nil {
		i.metrics.DaemonMatches.Observe(float64(res.Total))
	}
	logger.FromContext(ctx).Debug("search intercepted",
		"engine", i.searcher.Engine(),
		"total", res.Total,
		"ids", len(ids),
	)
	i.track(ctx, req.Reconciliation.Term, req.Reconciliation.Page, outcome, res.Total, ids, time.Since(start), "")
}

// targetIDs returns the fetch directive for res: the record IDs in daemon
// order, or the sentinel when the daemon matched nothing on this page.
func (i *Interceptor) targetIDs(res *daemon.Result) ([]int64, error) {
	if res.Total <= 0 {
		return []int64{content.SentinelID}, nil
	}
	ids, err := res.RecordIDs(i.idAttribute)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrDaemonProtocol, err)
	}
	if len(ids) == 0 {
		// page past the end of a non-empty result
		return []int64{content.SentinelID}, nil
	}
	return ids, nil
}

func (i *Interceptor) fallback(ctx context.Context, req *content.Request, err error, took time.Duration) {
	lastErr := i.searcher.LastError()
	if lastErr == "" {
		lastErr = err.Error()
	}
	logger.FromContext(ctx).Warn("search daemon failed, using native search",
		"engine", i.searcher.Engine(),
		"error", err,
		"last_error", lastErr,
	)
	i.count(metrics.OutcomeFallback)
	i.track(ctx, req.Term, req.Page, metrics.OutcomeFallback, 0, nil, took, lastErr)
}

func (i *Interceptor) count(outcome string) {
	if i.metrics != nil {
		i.metrics.InterceptionsTotal.WithLabelValues(outcome).Inc()
	}
}

func (i *Interceptor) track(ctx context.Context, term string, page int, outcome string, total int, ids []int64, took time.Duration, errText string) {
	if i.tracker == nil {
		return
	}
	returned := len(ids)
	if returned == 1 && ids[0] == content.SentinelID {
		returned = 0
	}
	i.tracker.Track(analytics.SearchEvent{
		Query:     term,
		Engine:    i.searcher.Engine(),
		Outcome:   outcome,
		Page:      max(page, 1),
		Total:     total,
		Returned:  returned,
		LatencyMs: took.Milliseconds(),
		Error:     errText,
		RequestID: logger.RequestID(ctx),
		Timestamp: time.Now().UTC(),
	})
}
