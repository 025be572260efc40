package interceptor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/content"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/daemon"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/searchclient"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/metrics"
)

type fakeSearcher struct {
	res     *daemon.Result
	err     error
	calls   int
	params  searchclient.Params
	lastErr string
}

func (f *fakeSearcher) Search(_ context.Context, p searchclient.Params) (*daemon.Result, error) {
	f.calls++
	f.params = p
	if f.err != nil {
		f.lastErr = f.err.Error()
	}
	return f.res, f.err
}

func (f *fakeSearcher) LastError() string { return f.lastErr }
func (f *fakeSearcher) Engine() string { return "fake" }

type recordingTracker struct{ events []analytics.SearchEvent }

func (r *recordingTracker) Track(ev analytics.SearchEvent) { r.events = append(r.events, ev) }

func matchesFor(ids ...int64) []daemon.Match {
	out := make([]daemon.Match, 0, len(ids))
	for n, id := range ids {
		out = append(out, daemon.Match{ID: uint64(1000 + n), Attrs: map[string]any{"post_id": uint32(id)}})
	}
	return out
}

func voceRequest() *content.Request {
	return &content.Request{
		IsSearch:    true,
		Term:        "voce",
		SearchUsing: "any",
		Page:        2,
		PerPage:     10,
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestParse_VoceScenario(t *testing.T) {
	ids := []int64{55, 12, 9, 31, 8, 77, 4, 60, 19, 2}
	s := &fakeSearcher{res: &daemon.Result{Total: 25, Matches: matchesFor(ids...)}}
	m := metrics.New(prometheus.NewRegistry())
	tr := &recordingTracker{}
	i := New(s, "post_id", WithMetrics(m), WithTracker(tr))

	req := voceRequest()
	i.Parse(context.Background(), req)

	if s.calls != 1 {
		t.Fatalf("daemon called %d times", s.calls)
	}
	want := searchclient.Params{Term: "voce", SearchUsing: "any", Sort: "match", Page: 2, PerPage: 10}
	if s.params != want {
		t.Fatalf("params = %+v, want %+v", s.params, want)
	}
	if !reflect.DeepEqual(req.IDs, ids) {
		t.Fatalf("IDs = %v, want %v", req.IDs, ids)
	}
	if req.Reconciliation == nil || *req.Reconciliation != (content.Reconciliation{Term: "voce", Page: 2, Total: 25}) {
		t.Fatalf("reconciliation = %+v", req.Reconciliation)
	}
	if req.Term != "" || req.Page != 0 {
		t.Fatalf("term/page not cleared: %q %d", req.Term, req.Page)
	}
	if req.Sort != "match" {
		t.Fatalf("sort = %q, want match", req.Sort)
	}
	if got := testutil.ToFloat64(m.InterceptionsTotal.WithLabelValues(metrics.OutcomeIntercepted)); got != 1 {
		t.Fatalf("intercepted counter = %v", got)
	}
	if len(tr.events) != 1 || tr.events[0].Query != "voce" || tr.events[0].Total != 25 || tr.events[0].Returned != 10 || tr.events[0].Page != 2 {
		t.Fatalf("tracked events = %+v", tr.events)
	}
}

func TestParse_SortNormalization(t *testing.T) {
	tests := []struct {
		sort        string
		wantSort    string
		wantOrderBy string
		wantOrder   string
	}{
		{"date", "date", "date", "DESC"},
		{"title", "title", "title", "ASC"},
		{"relevance", "match", "relevance_host", "host_order"},
		{"", "match", "relevance_host", "host_order"},
	}
	for _, tt := range tests {
		t.Run(tt.sort, func(t *testing.T) {
			s := &fakeSearcher{res: &daemon.Result{Total: 1, Matches: matchesFor(5)}}
			req := &content.Request{IsSearch: true, Term: "x", Sort: tt.sort, OrderBy: "relevance_host", Order: "host_order"}
			New(s, "post_id").Parse(context.Background(), req)
			if s.params.Sort != tt.wantSort {
				t.Errorf("daemon sort = %q, want %q", s.params.Sort, tt.wantSort)
			}
			if req.Sort != tt.wantSort || req.OrderBy != tt.wantOrderBy || req.Order != tt.wantOrder {
				t.Errorf("request sort/orderby/order = %q/%q/%q", req.Sort, req.OrderBy, req.Order)
			}
		})
	}
}

func TestParse_ZeroMatchesUseSentinel(t *testing.T) {
	s := &fakeSearcher{res: &daemon.Result{Total: 0}}
	m := metrics.New(prometheus.NewRegistry())
	req := &content.Request{IsSearch: true, Term: "nothing"}
	New(s, "post_id", WithMetrics(m)).Parse(context.Background(), req)

	if !reflect.DeepEqual(req.IDs, []int64{content.SentinelID}) {
		t.Fatalf("IDs = %v, want sentinel", req.IDs)
	}
	if req.Reconciliation == nil || req.Reconciliation.Total != 0 || req.Reconciliation.Term != "nothing" {
		t.Fatalf("reconciliation = %+v", req.Reconciliation)
	}
	if got := testutil.ToFloat64(m.InterceptionsTotal.WithLabelValues(metrics.OutcomeZeroResult)); got != 1 {
		t.Fatalf("zero_result counter = %v", got)
	}
}

func TestParse_PagePastEndKeepsTotal(t *testing.T) {
	s := &fakeSearcher{res: &daemon.Result{Total: 25}}
	req := &content.Request{IsSearch: true, Term: "voce", Page: 9, PerPage: 10}
	New(s, "post_id").Parse(context.Background(), req)

	if !reflect.DeepEqual(req.IDs, []int64{content.SentinelID}) {
		t.Fatalf("IDs = %v, want sentinel", req.IDs)
	}
	if req.Reconciliation.Total != 25 || req.Reconciliation.Page != 9 {
		t.Fatalf("reconciliation = %+v", req.Reconciliation)
	}
}

func TestParse_DocumentIDWhenNoAttribute(t *testing.T) {
	s := &fakeSearcher{res: &daemon.Result{Total: 2, Matches: []daemon.Match{{ID: 8}, {ID: 3}}}}
	req := &content.Request{IsSearch: true, Term: "x"}
	New(s, "").Parse(context.Background(), req)
	if !reflect.DeepEqual(req.IDs, []int64{8, 3}) {
		t.Fatalf("IDs = %v", req.IDs)
	}
}

// Any daemon failure must leave the request exactly as it arrived.
func TestParse_FallbackLeavesRequestUntouched(t *testing.T) {
	tests := []struct {
		name string
		s    *fakeSearcher
	}{
		{"unreachable", &fakeSearcher{err: fmt.Errorf("%w: dial tcp: connection refused", apperrors.ErrDaemonUnavailable)}},
		{"timeout", &fakeSearcher{err: fmt.Errorf("%w: limit 15s", apperrors.ErrDaemonTimeout)}},
		{"malformed", &fakeSearcher{err: fmt.Errorf("%w: truncated response", apperrors.ErrDaemonProtocol)}},
		{"missing id attribute", &fakeSearcher{res: &daemon.Result{Total: 1, Matches: []daemon.Match{{ID: 1, Attrs: map[string]any{}}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, sort := range []string{"", "date", "title", "weird"} {
				req := voceRequest()
				req.Sort = sort
				req.OrderBy = "post_date"
				req.Order = "DESC"
				before := mustJSON(t, req)
				snapshot := req.Clone()

				m := metrics.New(prometheus.NewRegistry())
				tr := &recordingTracker{}
				New(tt.s, "post_id", WithMetrics(m), WithTracker(tr)).Parse(context.Background(), req)

				if after := mustJSON(t, req); !bytes.Equal(before, after) {
					t.Fatalf("sort %q: request changed\nbefore %s\nafter  %s", sort, before, after)
				}
				if !reflect.DeepEqual(req, snapshot) {
					t.Fatalf("sort %q: request changed: %+v", sort, req)
				}
				if got := testutil.ToFloat64(m.InterceptionsTotal.WithLabelValues(metrics.OutcomeFallback)); got != 1 {
					t.Fatalf("fallback counter = %v", got)
				}
				if len(tr.events) != 1 || tr.events[0].Outcome != metrics.OutcomeFallback || tr.events[0].Error == "" {
					t.Fatalf("tracked = %+v", tr.events)
				}
			}
		})
	}
}

func TestParse_NoopCases(t *testing.T) {
	t.Run("not a search", func(t *testing.T) {
		s := &fakeSearcher{res: &daemon.Result{Total: 1}}
		req := &content.Request{Term: "voce", Page: 2}
		snapshot := req.Clone()
		New(s, "post_id").Parse(context.Background(), req)
		if s.calls != 0 || !reflect.DeepEqual(req, snapshot) {
			t.Fatalf("non-search request touched: calls=%d req=%+v", s.calls, req)
		}
	})

	t.Run("no daemon", func(t *testing.T) {
		m := metrics.New(prometheus.NewRegistry())
		req := voceRequest()
		snapshot := req.Clone()
		New(nil, "post_id", WithMetrics(m)).Parse(context.Background(), req)
		if !reflect.DeepEqual(req, snapshot) {
			t.Fatalf("request touched without a daemon: %+v", req)
		}
		if got := testutil.ToFloat64(m.InterceptionsTotal.WithLabelValues(metrics.OutcomeSkipped)); got != 1 {
			t.Fatalf("skipped counter = %v", got)
		}
	})
}
