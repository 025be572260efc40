// Package content is the host's content query pipeline: a search request is
// passed through registered parse stages, loaded from the record store, and
// then through found-rows and results filters before rendering.
package content

import (
	"slices"
	"time"
)

// SentinelID matches no real record. An ID list holding only the sentinel
// forces the store to return nothing.
const SentinelID int64 = -1

// Request is the working state of one content query. Input fields carry the
// caller's parameters; IDs is the fetch-by-ID directive written by a parse
// stage; Reconciliation holds what is needed to undo that rewrite.
type Request struct {
	IsSearch    bool
	Term        string
	Sort        string
	SearchUsing string
	// Page is the 1-based page number, 0 when the caller did not ask for one.
	Page      int
	PerPage   int
	ShowPosts int
	OrderBy   string
	Order     string

	// IDs, when non-nil, restricts the fetch to these records.
	IDs []int64

	Reconciliation *Reconciliation
}

// Reconciliation is the metadata saved when a request is rewritten.
type Reconciliation struct {
	Term string
	// Page is the original page, 0 when none was set.
	Page  int
	Total int
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	c := *r
	c.IDs = slices.Clone(r.IDs)
	if r.Reconciliation != nil {
		rec := *r.Reconciliation
		c.Reconciliation = &rec
	}
	return &c
}

// Record is a published post as loaded from the record store.
type Record struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Status      string    `json:"status"`
	PublishedAt time.Time `json:"published_at"`
}
