// Package search serves the public search endpoint by running requests
// through the content pipeline.
package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/content"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/tracing"
)

// Runner executes a content query. *content.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, req *content.Request) (*content.Result, error)
}

type Handler struct {
	runner  Runner
	tracing bool
	logger  *slog.Logger
}

// New creates the search handler. With traceSpans set, every request's span
// tree is logged once it completes.
func New(runner Runner, traceSpans bool) *Handler {
	return &Handler{
		runner:  runner,
		tracing: traceSpans,
		logger:  slog.Default().With("component", "search-handler"),
	}
}

// Response is the rendered search page.
type Response struct {
	Query       string           `json:"query"`
	Page        int              `json:"page"`
	PerPage     int              `json:"per_page"`
	FoundPosts  int              `json:"found_posts"`
	MaxNumPages int              `json:"max_num_pages"`
	Sort        string           `json:"sort"`
	OrderBy     string           `json:"order_by"`
	Order       string           `json:"order"`
	Posts       []content.Record `json:"posts"`
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /search", h.Search)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	req, err := parseRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var span *tracing.Span
	if h.tracing {
		ctx, span = tracing.Start(ctx, "search", middleware.GetRequestID(ctx))
		span.SetAttr("term", req.Term)
	}

	res, err := h.runner.Run(ctx, req)
	if span != nil {
		span.End()
		span.Log(log)
	}
	if err != nil {
		log.Error("content query failed", "term", req.Term, "error", err)
		h.writeError(w, apperrors.New(apperrors.ErrInternal, http.StatusInternalServerError, "search failed"))
		return
	}

	posts := res.Records
	if posts == nil {
		posts = []content.Record{}
	}
	log.Info("search completed",
		"term", req.Term,
		"found", res.Found,
		"returned", len(posts),
		"page", res.Page,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, Response{
		Query:       req.Term,
		Page:        res.Page,
		PerPage:     res.PerPage,
		FoundPosts:  res.Found,
		MaxNumPages: res.MaxPages,
		Sort:        req.Sort,
		OrderBy:     req.OrderBy,
		Order:       req.Order,
		Posts:       posts,
	})
}

// parseRequest maps query parameters onto a content request. The request is
// a search exactly when the s parameter is present, even if empty.
func parseRequest(r *http.Request) (*content.Request, error) {
	q := r.URL.Query()
	req := &content.Request{
		Term:        q.Get("s"),
		Sort:        q.Get("sort"),
		SearchUsing: q.Get("search_using"),
		OrderBy:     q.Get("orderby"),
		Order:       q.Get("order"),
	}
	_, req.IsSearch = q["s"]

	ints := []struct {
		name string
		dst  *int
	}{
		{"paged", &req.Page},
		{"posts_per_page", &req.PerPage},
		{"showposts", &req.ShowPosts},
	}
	for _, f := range ints {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "%s must be a non-negative integer", f.name)
		}
		*f.dst = n
	}
	return req, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	msg := err.Error()
	if appErr, ok := err.(*apperrors.AppError); ok {
		msg = appErr.Message
	}
	h.writeJSON(w, apperrors.HTTPStatusCode(err), map[string]string{"error": msg})
}
