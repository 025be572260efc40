package content

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/tracing"
)

// Store loads records for a request. With req.IDs set it returns the
// matching records in any order; otherwise it runs the host's native search
// and pagination. found is the total number of matching records.
type Store interface {
	Fetch(ctx context.Context, req *Request) (records []Record, found int, err error)
}

// ParseStage inspects and may rewrite a request before it reaches the store.
type ParseStage func(ctx context.Context, req *Request)

// FoundRowsFilter adjusts the found-record count after the fetch.
type FoundRowsFilter func(ctx context.Context, found int, req *Request) int

// ResultsFilter adjusts the fetched record list.
type ResultsFilter func(ctx context.Context, records []Record, req *Request) []Record

// Result is the rendered outcome of a content query.
type Result struct {
	Records  []Record
	Found    int
	Page     int
	PerPage  int
	MaxPages int
}

// Pipeline runs requests through its registered stages in registration
// order. Stages are registered once at startup; Run is safe for concurrent
// use afterwards.
type Pipeline struct {
	store          Store
	defaultPerPage int
	parse          []ParseStage
	foundRows      []FoundRowsFilter
	results        []ResultsFilter
	logger         *slog.Logger
}

func NewPipeline(store Store, defaultPerPage int) *Pipeline {
	if defaultPerPage < 1 {
		defaultPerPage = 10
	}
	return &Pipeline{
		store:          store,
		defaultPerPage: defaultPerPage,
		logger:         slog.Default().With("component", "content-pipeline"),
	}
}

func (p *Pipeline) OnParse(s ParseStage) { p.parse = append(p.parse, s) }
func (p *Pipeline) OnFoundRows(f FoundRowsFilter) { p.foundRows = append(p.foundRows, f) }
func (p *Pipeline) OnResults(f ResultsFilter) { p.results = append(p.results, f) }
func (p *Pipeline) DefaultPerPage() int { return p.defaultPerPage }

// Run executes the request. req is mutated by the stages and reflects the
// user-facing state after the filters have run.
func (p *Pipeline) Run(ctx context.Context, req *Request) (*Result, error) {
	for _, s := range p.parse {
		s(ctx, req)
	}

	fetchCtx, span := tracing.StartChild(ctx, "store.fetch")
	records, found, err := p.store.Fetch(fetchCtx, req)
	span.SetAttr("records", len(records))
	span.End()
	if err != nil {
		return nil, fmt.Errorf("fetching records: %w", err)
	}

	for _, f := range p.foundRows {
		found = f(ctx, found, req)
	}
	for _, f := range p.results {
		records = f(ctx, records, req)
	}

	page, perPage, _ := PageWindow(req.Page, p.PerPage(req))
	maxPages := 0
	if found > 0 {
		maxPages = (found + perPage - 1) / perPage
	}
	return &Result{
		Records:  records,
		Found:    found,
		Page:     page,
		PerPage:  perPage,
		MaxPages: maxPages,
	}, nil
}

// PerPage is the host's effective page size for req.
func (p *Pipeline) PerPage(req *Request) int {
	n := max(req.PerPage, req.ShowPosts)
	if n < 1 {
		return p.defaultPerPage
	}
	return n
}
