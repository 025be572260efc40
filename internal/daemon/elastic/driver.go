// Package elastic is a daemon.Driver backed by Elasticsearch. The runtime
// settings' server and port name the cluster node; the index pattern is
// passed through unchanged.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/daemon"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/errors"
)

// Driver runs multi_match searches.
type Driver struct {
	cfg       config.ElasticConfig
	transport http.RoundTripper
	logger    *slog.Logger
}

func New(cfg config.ElasticConfig) *Driver {
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = []string{"title", "content"}
	}
	return &Driver{
		cfg:    cfg,
		logger: slog.Default().With("component", "elastic-driver"),
	}
}

// WithTransport overrides the HTTP transport used for every client.
func (d *Driver) WithTransport(rt http.RoundTripper) *Driver {
	d.transport = rt
	return d
}

func (d *Driver) Name() string { return "elastic" }

type searchBody struct {
	From           int              `json:"from"`
	Size           int              `json:"size"`
	TrackTotalHits bool             `json:"track_total_hits"`
	Timeout        string           `json:"timeout,omitempty"`
	Query          map[string]any   `json:"query"`
	Sort           []map[string]any `json:"sort,omitempty"`
}

type searchResponse struct {
	Took     int64 `json:"took"`
	TimedOut bool  `json:"timed_out"`
	Hits     struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string         `json:"_id"`
			Score  *float64       `json:"_score"`
			Source map[string]any `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

type errorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// buildBody translates q into a search request body.
func (d *Driver) buildBody(q daemon.Query) searchBody {
	mm := map[string]any{
		"query":  q.Term,
		"fields": d.cfg.Fields,
	}
	switch q.Mode {
	case daemon.MatchPhrase:
		mm["type"] = "phrase"
	case daemon.MatchAll:
		mm["type"] = "best_fields"
		mm["operator"] = "and"
	default:
		mm["type"] = "best_fields"
		mm["operator"] = "or"
	}

	body := searchBody{
		From:           q.Offset,
		Size:           q.Limit,
		TrackTotalHits: true,
		Query:          map[string]any{"multi_match": mm},
	}
	if q.MaxQueryTime > 0 {
		body.Timeout = strconv.FormatInt(q.MaxQueryTime.Milliseconds(), 10) + "ms"
	}
	switch q.Sort {
	case daemon.SortAttrDesc:
		body.Sort = []map[string]any{{q.SortAttr: "desc"}}
	case daemon.SortAttrAsc:
		body.Sort = []map[string]any{{q.SortAttr: "asc"}}
	}
	return body
}

func (d *Driver) Query(ctx context.Context, ep daemon.Endpoint, q daemon.Query) (*daemon.Result, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{d.cfg.Scheme + "://" + ep.String()},
		Username:     d.cfg.Username,
		Password:     d.cfg.Password,
		Transport:    d.transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating elasticsearch client: %v", apperrors.ErrDaemonUnavailable, err)
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(d.buildBody(q)); err != nil {
		return nil, fmt.Errorf("encoding search body: %w", err)
	}

	res, err := client.Search(
		client.Search.WithContext(ctx),
		client.Search.WithIndex(q.Index),
		client.Search.WithBody(&buf),
	)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrDaemonTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrDaemonUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		var er errorResponse
		_ = json.NewDecoder(res.Body).Decode(&er)
		msg := er.Error.Reason
		if msg == "" {
			msg = res.Status()
		}
		if res.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: elasticsearch %s: %s", apperrors.ErrDaemonUnavailable, res.Status(), msg)
		}
		return &daemon.Result{Error: msg}, nil
	}

	var sr searchResponse
	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	if err := dec.Decode(&sr); err != nil {
		return nil, fmt.Errorf("%w: decoding search response: %v", apperrors.ErrDaemonProtocol, err)
	}
	if sr.TimedOut {
		return nil, fmt.Errorf("%w: elasticsearch reported timed_out", apperrors.ErrDaemonTimeout)
	}

	out := &daemon.Result{
		Total:      sr.Hits.Total.Value,
		TotalFound: sr.Hits.Total.Value,
		Matches:    make([]daemon.Match, 0, len(sr.Hits.Hits)),
		Warning:    res.Header.Get("Warning"),
		Took:       time.Duration(sr.Took) * time.Millisecond,
	}
	for _, h := range sr.Hits.Hits {
		// non-numeric _id values leave ID zero; RecordIDs then relies on
		// the configured attribute
		id, _ := strconv.ParseUint(h.ID, 10, 64)
		m := daemon.Match{ID: id, Attrs: h.Source}
		if h.Score != nil {
			m.Weight = int(*h.Score * 1000)
		}
		out.Matches = append(out.Matches, m)
	}

	d.logger.Debug("query complete", "endpoint", ep.String(), "index", q.Index, "total", out.Total, "matches", len(out.Matches))
	return out, nil
}
