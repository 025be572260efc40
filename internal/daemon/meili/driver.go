// Package meili is a daemon.Driver backed by Meilisearch. The index pattern
// "*" selects the configured default index. Meilisearch ranks and pages each
// index on its own, so a pattern naming several indexes is refused rather
// than merged.
package meili

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/daemon"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/errors"
)

// Driver runs one search per query through the multi-search endpoint.
type Driver struct {
	cfg    config.MeiliConfig
	logger *slog.Logger
}

func New(cfg config.MeiliConfig) *Driver {
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.DefaultIndex == "" {
		cfg.DefaultIndex = "posts"
	}
	return &Driver{
		cfg:    cfg,
		logger: slog.Default().With("component", "meili-driver"),
	}
}

func (d *Driver) Name() string { return "meili" }

// index resolves an index pattern to a single Meilisearch index UID.
func (d *Driver) index(pattern string) (string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == "*" {
		return d.cfg.DefaultIndex, nil
	}
	if strings.ContainsAny(pattern, ", ") {
		return "", fmt.Errorf("%w: meilisearch driver searches a single index, got %q", apperrors.ErrDaemonProtocol, pattern)
	}
	return pattern, nil
}

func (d *Driver) buildRequest(uid string, q daemon.Query) *meili.SearchRequest {
	term := q.Term
	strategy := meili.Last
	switch q.Mode {
	case daemon.MatchAll:
		strategy = meili.All
	case daemon.MatchPhrase:
		term = `"` + strings.ReplaceAll(term, `"`, "") + `"`
	}

	var sort []string
	switch q.Sort {
	case daemon.SortAttrDesc:
		sort = []string{q.SortAttr + ":desc"}
	case daemon.SortAttrAsc:
		sort = []string{q.SortAttr + ":asc"}
	}

	return &meili.SearchRequest{
		IndexUID:         uid,
		Query:            term,
		Offset:           int64(q.Offset),
		Limit:            int64(q.Limit),
		Sort:             sort,
		MatchingStrategy: strategy,
		ShowRankingScore: true,
	}
}

func (d *Driver) Query(ctx context.Context, ep daemon.Endpoint, q daemon.Query) (*daemon.Result, error) {
	uid, err := d.index(q.Index)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	defer transport.CloseIdleConnections()
	client := meili.New(d.cfg.Scheme+"://"+ep.String(),
		meili.WithAPIKey(d.cfg.APIKey),
		meili.WithCustomClient(&http.Client{Transport: transport}),
	)

	start := time.Now()
	resp, err := client.MultiSearchWithContext(ctx, &meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{d.buildRequest(uid, q)},
	})
	if err != nil {
		var me *meili.Error
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %v", apperrors.ErrDaemonTimeout, err)
		case errors.As(err, &me) && me.StatusCode >= http.StatusBadRequest && me.StatusCode < http.StatusInternalServerError:
			return &daemon.Result{Error: err.Error()}, nil
		default:
			return nil, fmt.Errorf("%w: meilisearch multi-search: %v", apperrors.ErrDaemonUnavailable, err)
		}
	}

	out := &daemon.Result{Took: time.Since(start)}
	for _, sr := range resp.Results {
		out.Total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			m, err := decodeHit(hit)
			if err != nil {
				return nil, fmt.Errorf("%w: index %s: %v", apperrors.ErrDaemonProtocol, sr.IndexUID, err)
			}
			out.Matches = append(out.Matches, m)
		}
	}
	out.TotalFound = out.Total

	d.logger.Debug("query complete", "endpoint", ep.String(), "index", q.Index, "total", out.Total, "matches", len(out.Matches))
	return out, nil
}

// decodeHit converts a raw hit into a match. Numbers keep full precision as
// json.Number; the primary key "id" doubles as the document ID when numeric.
func decodeHit(hit meili.Hit) (daemon.Match, error) {
	m := daemon.Match{Attrs: make(map[string]any, len(hit))}
	for k, raw := range hit {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return m, fmt.Errorf("decoding attribute %q: %w", k, err)
		}
		switch k {
		case "_rankingScore":
			if n, ok := v.(json.Number); ok {
				f, _ := n.Float64()
				m.Weight = int(f * 1000)
			}
			continue
		case "_formatted", "_matchesPosition":
			continue
		}
		m.Attrs[k] = v
	}
	if n, ok := m.Attrs["id"].(json.Number); ok {
		m.ID, _ = strconv.ParseUint(n.String(), 10, 64)
	}
	return m, nil
}
