// Package daemon defines the contract between the search client adapter and
// the external full-text search daemons it can talk to. Drivers live in the
// sphinx, elastic and meili subpackages.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// MatchMode controls how the terms of a query combine.
type MatchMode int

const (
	MatchAny MatchMode = iota
	MatchAll
	MatchPhrase
)

func (m MatchMode) String() string {
	switch m {
	case MatchAll:
		return "all"
	case MatchPhrase:
		return "phrase"
	default:
		return "any"
	}
}

// SortMode controls result ordering.
type SortMode int

const (
	SortRelevance SortMode = iota
	SortAttrDesc
	SortAttrAsc
)

func (s SortMode) String() string {
	switch s {
	case SortAttrDesc:
		return "attr_desc"
	case SortAttrAsc:
		return "attr_asc"
	default:
		return "relevance"
	}
}

// Endpoint is the daemon address taken from the runtime settings.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return e.Host + ":" + strconv.Itoa(e.Port)
}

// Query is built once per search and consumed by a single driver call.
type Query struct {
	Index    string
	Term     string
	Mode     MatchMode
	Sort     SortMode
	SortAttr string
	Offset   int
	Limit    int
	// MaxQueryTime is forwarded to the daemon as its own execution budget.
	MaxQueryTime time.Duration
}

// Match is one ranked hit.
type Match struct {
	ID     uint64
	Weight int
	Attrs  map[string]any
}

// Result is a daemon response. Error and Warning carry daemon-reported
// diagnostics; a non-empty Error means the query did not succeed.
type Result struct {
	Total      int
	TotalFound int
	Matches    []Match
	Error      string
	Warning    string
	Took       time.Duration
}

// Driver executes queries against one daemon implementation. Drivers open a
// fresh connection for every call and must honour ctx cancellation.
type Driver interface {
	Name() string
	Query(ctx context.Context, ep Endpoint, q Query) (*Result, error)
}

// RecordIDs returns the record ID of every match in daemon order. With an
// empty attr the daemon document ID is used; otherwise attr must be present
// on every match and hold a positive integer.
func (r *Result) RecordIDs(attr string) ([]int64, error) {
	ids := make([]int64, 0, len(r.Matches))
	for i, m := range r.Matches {
		if attr == "" {
			if m.ID == 0 || m.ID > math.MaxInt64 {
				return nil, fmt.Errorf("match %d: document id %d out of range", i, m.ID)
			}
			ids = append(ids, int64(m.ID))
			continue
		}
		raw, ok := m.Attrs[attr]
		if !ok {
			return nil, fmt.Errorf("match %d: missing attribute %q", i, attr)
		}
		id, err := toInt64(raw)
		if err != nil {
			return nil, fmt.Errorf("match %d: attribute %q: %w", i, attr, err)
		}
		if id <= 0 {
			return nil, fmt.Errorf("match %d: attribute %q: non-positive id %d", i, attr, id)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, fmt.Errorf("value %v is not an integer", n)
		}
		return int64(n), nil
	case json.Number:
		id, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("value %q is not an integer", n.String())
		}
		return id, nil
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not an integer", n)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
