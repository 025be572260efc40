package elastic

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/daemon"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/errors"
)

func endpointOf(t *testing.T, srv *httptest.Server) daemon.Endpoint {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("split %s: %v", srv.URL, err)
	}
	port, _ := strconv.Atoi(portStr)
	return daemon.Endpoint{Host: host, Port: port}
}

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBuildBody(t *testing.T) {
	d := New(config.ElasticConfig{Fields: []string{"title"}})
	tests := []struct {
		name     string
		q        daemon.Query
		wantType string
		wantOp   any
		wantSort []map[string]any
	}{
		{"any", daemon.Query{Mode: daemon.MatchAny}, "best_fields", "or", nil},
		{"all", daemon.Query{Mode: daemon.MatchAll}, "best_fields", "and", nil},
		{"phrase", daemon.Query{Mode: daemon.MatchPhrase}, "phrase", nil, nil},
		{"date", daemon.Query{Sort: daemon.SortAttrDesc, SortAttr: "date_added"}, "best_fields", "or", []map[string]any{{"date_added": "desc"}}},
		{"title", daemon.Query{Sort: daemon.SortAttrAsc, SortAttr: "title"}, "best_fields", "or", []map[string]any{{"title": "asc"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := d.buildBody(tt.q)
			mm := body.Query["multi_match"].(map[string]any)
			if mm["type"] != tt.wantType {
				t.Errorf("type = %v, want %v", mm["type"], tt.wantType)
			}
			if mm["operator"] != tt.wantOp {
				t.Errorf("operator = %v, want %v", mm["operator"], tt.wantOp)
			}
			if !reflect.DeepEqual(body.Sort, tt.wantSort) {
				t.Errorf("sort = %v, want %v", body.Sort, tt.wantSort)
			}
			if !body.TrackTotalHits {
				t.Error("total hits must be tracked exactly")
			}
		})
	}
}

func TestQuery_DecodesHits(t *testing.T) {
	var got searchBody
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/_search") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Warning", `299 Elasticsearch "deprecated field"`)
		w.Write([]byte(`{
			"took": 4, "timed_out": false,
			"hits": {"total": {"value": 25, "relation": "eq"}, "hits": [
				{"_id": "55", "_score": 2.5, "_source": {"post_id": 55, "title": "Voce"}},
				{"_id": "abc", "_score": 1.0, "_source": {"post_id": 12, "title": "Voce too"}}
			]}
		}`))
	})

	q := daemon.Query{Index: "posts", Term: "voce", Offset: 10, Limit: 10, MaxQueryTime: 15 * time.Second}
	res, err := New(config.ElasticConfig{}).Query(context.Background(), endpointOf(t, srv), q)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got.From != 10 || got.Size != 10 || got.Timeout != "15000ms" {
		t.Fatalf("request body = %+v", got)
	}
	if res.Total != 25 || len(res.Matches) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.Matches[0].ID != 55 || res.Matches[1].ID != 0 {
		t.Fatalf("ids = %d, %d", res.Matches[0].ID, res.Matches[1].ID)
	}
	if res.Took != 4*time.Millisecond || !strings.Contains(res.Warning, "deprecated") {
		t.Fatalf("took/warning = %v %q", res.Took, res.Warning)
	}
	ids, err := res.RecordIDs("post_id")
	if err != nil || !reflect.DeepEqual(ids, []int64{55, 12}) {
		t.Fatalf("RecordIDs = %v, %v", ids, err)
	}
}

func TestQuery_Errors(t *testing.T) {
	t.Run("client error becomes result error", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"type":"index_not_found_exception","reason":"no such index [nope]"}}`))
		})
		res, err := New(config.ElasticConfig{}).Query(context.Background(), endpointOf(t, srv), daemon.Query{Index: "nope", Limit: 1})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if res.Error != "no such index [nope]" {
			t.Fatalf("error = %q", res.Error)
		}
	})

	t.Run("server error", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"reason":"cluster red"}}`))
		})
		_, err := New(config.ElasticConfig{}).Query(context.Background(), endpointOf(t, srv), daemon.Query{Limit: 1})
		if !errors.Is(err, apperrors.ErrDaemonUnavailable) {
			t.Fatalf("expected unavailable, got %v", err)
		}
	})

	t.Run("timed out search", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"took":15000,"timed_out":true,"hits":{"total":{"value":3},"hits":[]}}`))
		})
		_, err := New(config.ElasticConfig{}).Query(context.Background(), endpointOf(t, srv), daemon.Query{Limit: 1})
		if !errors.Is(err, apperrors.ErrDaemonTimeout) {
			t.Fatalf("expected timeout, got %v", err)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"hits": [`))
		})
		_, err := New(config.ElasticConfig{}).Query(context.Background(), endpointOf(t, srv), daemon.Query{Limit: 1})
		if !errors.Is(err, apperrors.ErrDaemonProtocol) {
			t.Fatalf("expected protocol error, got %v", err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {})
		ep := endpointOf(t, srv)
		srv.Close()
		_, err := New(config.ElasticConfig{}).Query(context.Background(), ep, daemon.Query{Limit: 1})
		if !errors.Is(err, apperrors.ErrDaemonUnavailable) {
			t.Fatalf("expected unavailable, got %v", err)
		}
	})
}
