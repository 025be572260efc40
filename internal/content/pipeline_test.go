package content

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type fakeStore struct {
	records []Record
	found   int
	err     error
	seen    *Request
}

func (s *fakeStore) Fetch(_ context.Context, req *Request) ([]Record, int, error) {
	s.seen = req.Clone()
	return s.records, s.found, s.err
}

func TestPipeline_StagesRunInOrder(t *testing.T) {
	store := &fakeStore{records: []Record{{ID: 1}, {ID: 2}}, found: 2}
	p := NewPipeline(store, 10)

	var order []string
	p.OnParse(func(_ context.Context, req *Request) {
		order = append(order, "parse")
		req.IDs = []int64{2, 1}
	})
	p.OnFoundRows(func(_ context.Context, found int, _ *Request) int {
		order = append(order, "found")
		return found + 40
	})
	p.OnResults(func(_ context.Context, records []Record, _ *Request) []Record {
		order = append(order, "results")
		return []Record{records[1], records[0]}
	})

	res, err := p.Run(context.Background(), &Request{IsSearch: true, Term: "x"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"parse", "found", "results"}) {
		t.Fatalf("stage order = %v", order)
	}
	if !reflect.DeepEqual(store.seen.IDs, []int64{2, 1}) {
		t.Fatalf("store saw IDs %v", store.seen.IDs)
	}
	if res.Found != 42 || res.MaxPages != 5 || res.Page != 1 || res.PerPage != 10 {
		t.Fatalf("result = %+v", res)
	}
	if res.Records[0].ID != 2 {
		t.Fatalf("results filter not applied: %+v", res.Records)
	}
}

func TestPipeline_NoStages(t *testing.T) {
	store := &fakeStore{records: []Record{{ID: 7}}, found: 1}
	res, err := NewPipeline(store, 0).Run(context.Background(), &Request{Page: 3, PerPage: 2, ShowPosts: 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Page != 3 || res.PerPage != 5 || res.MaxPages != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestPipeline_StoreError(t *testing.T) {
	boom := errors.New("db down")
	_, err := NewPipeline(&fakeStore{err: boom}, 10).Run(context.Background(), &Request{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestPerPage(t *testing.T) {
	p := NewPipeline(&fakeStore{}, 12)
	tests := []struct {
		req  Request
		want int
	}{
		{Request{}, 12},
		{Request{PerPage: 4}, 4},
		{Request{ShowPosts: 6}, 6},
		{Request{PerPage: 4, ShowPosts: 6}, 6},
		{Request{PerPage: -1}, 12},
	}
	for _, tt := range tests {
		if got := p.PerPage(&tt.req); got != tt.want {
			t.Errorf("PerPage(%+v) = %d, want %d", tt.req, got, tt.want)
		}
	}
}

func TestClone_IsDeep(t *testing.T) {
	orig := &Request{Term: "voce", IDs: []int64{1, 2}, Reconciliation: &Reconciliation{Term: "voce", Total: 2}}
	c := orig.Clone()
	c.IDs[0] = 99
	c.Reconciliation.Total = 5
	if orig.IDs[0] != 1 || orig.Reconciliation.Total != 2 {
		t.Fatal("clone shares memory with the original")
	}
	if !reflect.DeepEqual((&Request{}).Clone(), &Request{}) {
		t.Fatal("clone of empty request differs")
	}
}
