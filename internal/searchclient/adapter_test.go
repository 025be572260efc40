package searchclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/content"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/daemon"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/settings"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/metrics"
)

type fakeDriver struct {
	query func(ctx context.Context, ep daemon.Endpoint, q daemon.Query) (*daemon.Result, error)
	calls int
	last  daemon.Query
	ep    daemon.Endpoint
}

func (f *fakeDriver) Name() string { return "fake" }

func (f *fakeDriver) Query(ctx context.Context, ep daemon.Endpoint, q daemon.Query) (*daemon.Result, error) {
	f.calls++
	f.last = q
	f.ep = ep
	return f.query(ctx, ep, q)
}

type staticSettings settings.Config

func (s staticSettings) Get(context.Context) settings.Config { return settings.Config(s) }

func newAdapter(d *fakeDriver, m *metrics.Metrics) *Adapter {
	return New(d, staticSettings(settings.Defaults()), Options{DefaultPerPage: 10}, m)
}

func TestBuildQuery_SortMapping(t *testing.T) {
	a := newAdapter(&fakeDriver{}, nil)
	tests := []struct {
		sort     string
		wantMode daemon.SortMode
		wantAttr string
	}{
		{"date", daemon.SortAttrDesc, "date_added"},
		{"title", daemon.SortAttrAsc, "title"},
		{"relevance", daemon.SortRelevance, ""},
		{"", daemon.SortRelevance, ""},
		{"DATE", daemon.SortRelevance, ""},
		{"match", daemon.SortRelevance, ""},
	}
	for _, tt := range tests {
		t.Run(tt.sort, func(t *testing.T) {
			q := a.BuildQuery(Params{Sort: tt.sort}, settings.Defaults())
			if q.Sort != tt.wantMode || q.SortAttr != tt.wantAttr {
				t.Fatalf("sort %q -> %v %q, want %v %q", tt.sort, q.Sort, q.SortAttr, tt.wantMode, tt.wantAttr)
			}
		})
	}
}

func TestBuildQuery_MatchMapping(t *testing.T) {
	a := newAdapter(&fakeDriver{}, nil)
	tests := map[string]daemon.MatchMode{
		"all":   daemon.MatchAll,
		"exact": daemon.MatchPhrase,
		"any":   daemon.MatchAny,
		"":      daemon.MatchAny,
		"fuzzy": daemon.MatchAny,
	}
	for in, want := range tests {
		if got := a.BuildQuery(Params{SearchUsing: in}, settings.Defaults()).Mode; got != want {
			t.Errorf("search_using %q -> %v, want %v", in, got, want)
		}
	}
}

func TestBuildQuery_Paging(t *testing.T) {
	a := newAdapter(&fakeDriver{}, nil)
	tests := []struct {
		name       string
		p          Params
		wantOffset int
		wantLimit  int
	}{
		{"voce page 2", Params{Page: 2, PerPage: 10}, 10, 10},
		{"first page", Params{Page: 1, PerPage: 20}, 0, 20},
		{"unset page", Params{Page: 0, PerPage: 5}, 0, 5},
		{"negative page clamps", Params{Page: -3, PerPage: 5}, 0, 5},
		{"showposts wins when larger", Params{Page: 3, PerPage: 5, ShowPosts: 8}, 16, 8},
		{"per page wins when larger", Params{Page: 2, PerPage: 12, ShowPosts: 3}, 12, 12},
		{"no size falls back to default", Params{Page: 3}, 20, 10},
		{"negative size falls back to default", Params{Page: 2, PerPage: -1, ShowPosts: -1}, 10, 10},
		{"overflowing page clamps to last window", Params{Page: math.MaxInt64 / 5, PerPage: 10}, (content.MaxWindow - 10) / 10 * 10, 10},
		{"page past 32 bits clamps to last window", Params{Page: 500000001, PerPage: 10}, (content.MaxWindow - 10) / 10 * 10, 10},
		{"huge page size clamps", Params{Page: 2, PerPage: math.MaxInt64}, 0, content.MaxWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := a.BuildQuery(tt.p, settings.Defaults())
			if q.Offset != tt.wantOffset || q.Limit != tt.wantLimit {
				t.Fatalf("offset/limit = %d/%d, want %d/%d", q.Offset, q.Limit, tt.wantOffset, tt.wantLimit)
			}
			if q.Offset < 0 || q.Offset+q.Limit > content.MaxWindow {
				t.Fatalf("window [%d, %d) out of range", q.Offset, q.Offset+q.Limit)
			}
		})
	}
}

func TestBuildQuery_UsesSettings(t *testing.T) {
	a := newAdapter(&fakeDriver{}, nil)
	cfg := settings.Config{Server: "s", Port: 1, Index: "posts_main", Timeout: 3}
	q := a.BuildQuery(Params{Term: "voce"}, cfg)
	if q.Index != "posts_main" || q.Term != "voce" || q.MaxQueryTime != 3*time.Second {
		t.Fatalf("query = %+v", q)
	}
}

func TestSearch_Success(t *testing.T) {
	d := &fakeDriver{query: func(context.Context, daemon.Endpoint, daemon.Query) (*daemon.Result, error) {
		return &daemon.Result{Total: 25, Warning: "index is stale"}, nil
	}}
	a := newAdapter(d, nil)

	res, err := a.Search(context.Background(), Params{Term: "voce", Page: 2, PerPage: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Total != 25 {
		t.Fatalf("total = %d", res.Total)
	}
	if d.calls != 1 {
		t.Fatalf("driver called %d times, want exactly once", d.calls)
	}
	if d.ep != (daemon.Endpoint{Host: settings.DefaultServer, Port: settings.DefaultPort}) {
		t.Fatalf("endpoint = %+v", d.ep)
	}
	if d.last.Offset != 10 {
		t.Fatalf("offset = %d, want 10", d.last.Offset)
	}
	if a.LastError() != "" || a.LastWarning() != "index is stale" {
		t.Fatalf("last error/warning = %q / %q", a.LastError(), a.LastWarning())
	}
}

func TestSearch_Failures(t *testing.T) {
	tests := []struct {
		name  string
		query func(ctx context.Context, ep daemon.Endpoint, q daemon.Query) (*daemon.Result, error)
		want  error
	}{
		{
			name: "unreachable",
			query: func(context.Context, daemon.Endpoint, daemon.Query) (*daemon.Result, error) {
				return nil, fmt.Errorf("%w: connection refused", apperrors.ErrDaemonUnavailable)
			},
			want: apperrors.ErrDaemonUnavailable,
		},
		{
			name: "unclassified driver error",
			query: func(context.Context, daemon.Endpoint, daemon.Query) (*daemon.Result, error) {
				return nil, errors.New("boom")
			},
			want: apperrors.ErrDaemonUnavailable,
		},
		{
			name: "daemon reported error",
			query: func(context.Context, daemon.Endpoint, daemon.Query) (*daemon.Result, error) {
				return &daemon.Result{Error: "unknown local index 'x'"}, nil
			},
			want: apperrors.ErrDaemonProtocol,
		},
		{
			name: "nil result",
			query: func(context.Context, daemon.Endpoint, daemon.Query) (*daemon.Result, error) {
				return nil, nil
			},
			want: apperrors.ErrDaemonProtocol,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAdapter(&fakeDriver{query: tt.query}, nil)
			res, err := a.Search(context.Background(), Params{Term: "x"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if res != nil {
				t.Fatal("failed search must not return a result")
			}
			if a.LastError() == "" || a.LastError() != err.Error() {
				t.Fatalf("last error = %q, err = %v", a.LastError(), err)
			}
		})
	}
}

func TestSearch_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	d := &fakeDriver{query: func(ctx context.Context, _ daemon.Endpoint, _ daemon.Query) (*daemon.Result, error) {
		<-release
		return &daemon.Result{Total: 1}, nil
	}}
	m := metrics.New(prometheus.NewRegistry())
	a := newAdapter(d, m)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := a.Search(ctx, Params{Term: "slow"})
	if !errors.Is(err, apperrors.ErrDaemonTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if got := testutil.CollectAndCount(m.DaemonLatency); got != 1 {
		t.Fatalf("latency series = %d, want 1", got)
	}
}

func TestSearch_LeavesFallbackReserve(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	sent := make(chan time.Duration, 1)
	d := &fakeDriver{query: func(ctx context.Context, _ daemon.Endpoint, q daemon.Query) (*daemon.Result, error) {
		sent <- q.MaxQueryTime
		<-release
		return &daemon.Result{Total: 1}, nil
	}}
	cfg := settings.Defaults()
	cfg.Timeout = 60
	a := New(d, staticSettings(cfg), Options{FallbackReserve: 100 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := a.Search(ctx, Params{Term: "slow"})
	if !errors.Is(err, apperrors.ErrDaemonTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("daemon call used the reserve, returned after %v", time.Since(start))
	}
	if got := <-sent; got <= 0 || got > 200*time.Millisecond {
		t.Fatalf("max query time = %v, want at most 200ms", got)
	}
}

func TestSearch_NoBudgetLeftSkipsDaemon(t *testing.T) {
	called := make(chan struct{}, 1)
	d := &fakeDriver{query: func(context.Context, daemon.Endpoint, daemon.Query) (*daemon.Result, error) {
		called <- struct{}{}
		return &daemon.Result{}, nil
	}}
	a := New(d, staticSettings(settings.Defaults()), Options{FallbackReserve: time.Second}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := a.Search(ctx, Params{Term: "late"})
	if !errors.Is(err, apperrors.ErrDaemonTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	select {
	case <-called:
		t.Fatal("daemon queried without any budget left")
	default:
	}
}

func TestSearch_SuccessClearsPreviousError(t *testing.T) {
	fail := true
	d := &fakeDriver{query: func(context.Context, daemon.Endpoint, daemon.Query) (*daemon.Result, error) {
		if fail {
			return nil, apperrors.ErrDaemonUnavailable
		}
		return &daemon.Result{}, nil
	}}
	a := newAdapter(d, nil)
	a.Search(context.Background(), Params{})
	if a.LastError() == "" {
		t.Fatal("expected last error after failure")
	}
	fail = false
	if _, err := a.Search(context.Background(), Params{}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if a.LastError() != "" {
		t.Fatalf("last error not cleared: %q", a.LastError())
	}
}

func TestTestSettings(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	var sent daemon.Query
	ok := &fakeDriver{query: func(_ context.Context, _ daemon.Endpoint, q daemon.Query) (*daemon.Result, error) {
		sent = q
		return &daemon.Result{}, nil
	}}
	if msg := newAdapter(ok, m).TestSettings(context.Background()); msg != "" {
		t.Fatalf("expected success, got %q", msg)
	}
	if sent.Term != "test search" || sent.Limit != 1 || sent.Offset != 0 {
		t.Fatalf("sent query = %+v", sent)
	}

	bad := &fakeDriver{query: func(context.Context, daemon.Endpoint, daemon.Query) (*daemon.Result, error) {
		return nil, fmt.Errorf("%w: connection refused", apperrors.ErrDaemonUnavailable)
	}}
	msg := newAdapter(bad, m).TestSettings(context.Background())
	if !strings.Contains(msg, "connection refused") {
		t.Fatalf("message = %q", msg)
	}

	if got := testutil.ToFloat64(m.SettingsTestsTotal.WithLabelValues("ok")); got != 1 {
		t.Fatalf("ok tests = %v", got)
	}
	if got := testutil.ToFloat64(m.SettingsTestsTotal.WithLabelValues("error")); got != 1 {
		t.Fatalf("error tests = %v", got)
	}
}
