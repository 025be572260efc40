// Package reconciler undoes the interceptor's rewrite after the host has
// loaded records: it restores the daemon's total and the user's term and
// page, and puts the loaded records back into daemon rank order.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/content"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/tracing"
)

// Reconciler provides the found-rows and results filters. Both are no-ops
// for requests the interceptor did not rewrite, and both can be applied
// repeatedly with the same outcome.
type Reconciler struct {
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Reconciler. m may be nil.
func New(m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		metrics: m,
		logger:  slog.Default().With("component", "reconciler"),
	}
}

// state reports whether req was rewritten. A request carrying only half of
// the rewrite is inconsistent.
func state(req *content.Request) (rewritten bool, err error) {
	hasIDs := len(req.IDs) > 0
	hasMeta := req.Reconciliation != nil
	switch {
	case !hasIDs && !hasMeta:
		return false, nil
	case hasIDs != hasMeta:
		return false, fmt.Errorf("%w: ids present=%t, metadata present=%t", apperrors.ErrReconciliation, hasIDs, hasMeta)
	case req.Reconciliation.Total == 0 && !(len(req.IDs) == 1 && req.IDs[0] == content.SentinelID):
		return false, fmt.Errorf("%w: zero total with %d ids", apperrors.ErrReconciliation, len(req.IDs))
	}
	return true, nil
}

// RestoreCount is the found-rows filter. For a rewritten request it returns
// the daemon's total and puts the original term and page back on req.
func (r *Reconciler) RestoreCount(ctx context.Context, found int, req *content.Request) int {
	rewritten, err := state(req)
	if err != nil {
		r.inconsistent(ctx, "restore_count", err)
		return found
	}
	if !rewritten {
		return found
	}

	rec := req.Reconciliation
	req.Term = rec.Term
	if rec.Page != 0 {
		req.Page = rec.Page
	}
	if found != rec.Total {
		logger.FromContext(ctx).Debug("found count replaced by daemon total", "host", found, "daemon", rec.Total)
	}
	return rec.Total
}

// Reorder is the results filter. It returns the loaded records arranged in
// daemon order: one entry per daemon ID that has a loaded record, nothing
// else.
func (r *Reconciler) Reorder(ctx context.Context, records []content.Record, req *content.Request) []content.Record {
	rewritten, err := state(req)
	if err != nil {
		r.inconsistent(ctx, "reorder", err)
		return records
	}
	if !rewritten {
		return records
	}

	_, span := tracing.StartChild(ctx, "reconcile.reorder")
	defer span.End()

	byID := make(map[int64]content.Record, len(records))
	for _, rec := range records {
		if _, seen := byID[rec.ID]; !seen {
			byID[rec.ID] = rec
		}
	}

	out := make([]content.Record, 0, len(req.IDs))
	dropped := 0
	for _, id := range req.IDs {
		if id == content.SentinelID {
			continue
		}
		rec, ok := byID[id]
		if !ok {
			dropped++
			continue
		}
		out = append(out, rec)
	}

	span.SetAttr("kept", len(out))
	span.SetAttr("dropped", dropped)
	if dropped > 0 {
		logger.FromContext(ctx).Debug("ranked ids without a loaded record", "dropped", dropped)
		if r.metrics != nil {
			r.metrics.ReconciledDropped.Add(float64(dropped))
		}
	}
	return out
}

func (r *Reconciler) inconsistent(ctx context.Context, stage string, err error) {
	logger.FromContext(ctx).Error("reconciliation skipped", "stage", stage, "error", err)
	if r.metrics != nil {
		r.metrics.ReconcileErrorsTotal.Inc()
	}
}
