package sphinx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/daemon"
)

const (
	commandSearch  = 0
	versionSearch  = 0x119
	clientProtocol = 1
	headerLen      = 8
)

// searchd reply status codes.
const (
	statusOK      = 0
	statusError   = 1
	statusRetry   = 2
	statusWarning = 3
)

// Wire values for match and sort modes.
const (
	matchAll    = 0
	matchAny    = 1
	matchPhrase = 2

	sortRelevance = 0
	sortAttrDesc  = 1
	sortAttrAsc   = 2

	rankProximityBM25 = 0
	groupByDay        = 0
)

// Attribute types.
const (
	attrInteger   = 1
	attrTimestamp = 2
	attrOrdinal   = 3
	attrBool      = 4
	attrFloat     = 5
	attrBigint    = 6
	attrString    = 7
	attrMulti     = 0x40000001
	attrMulti64   = 0x40000002
)

const defaultMaxMatches = 1000

// maxResponseLen caps the body length accepted from searchd.
const maxResponseLen = 64 << 20

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) uint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) uint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) int(v int) {
	e.uint32(uint32(v))
}

func (e *encoder) string(s string) {
	e.uint32(uint32(len(s)))
	e.buf.WriteString(s)
}

func matchWire(m daemon.MatchMode) int {
	switch m {
	case daemon.MatchAll:
		return matchAll
	case daemon.MatchPhrase:
		return matchPhrase
	default:
		return matchAny
	}
}

func sortWire(s daemon.SortMode) int {
	switch s {
	case daemon.SortAttrDesc:
		return sortAttrDesc
	case daemon.SortAttrAsc:
		return sortAttrAsc
	default:
		return sortRelevance
	}
}

// checkWindow rejects queries whose numeric fields do not fit the 32-bit
// wire slots. searchd would otherwise be sent a truncated window.
func checkWindow(q daemon.Query) error {
	switch {
	case q.Offset < 0 || q.Limit < 0:
		return fmt.Errorf("negative window offset=%d limit=%d", q.Offset, q.Limit)
	case q.Offset > math.MaxInt32-q.Limit:
		return fmt.Errorf("window offset=%d limit=%d exceeds %d", q.Offset, q.Limit, math.MaxInt32)
	case q.MaxQueryTime/time.Millisecond > math.MaxInt32:
		return fmt.Errorf("max query time %v exceeds the wire limit", q.MaxQueryTime)
	}
	return nil
}

// encodeQuery serialises one query entry in the layout searchd expects for
// SEARCH version 0x119. Everything the bridge does not use is sent empty.
func encodeQuery(q daemon.Query) []byte {
	var e encoder
	e.int(q.Offset)
	e.int(q.Limit)
	e.int(matchWire(q.Mode))
	e.int(rankProximityBM25)
	e.int(sortWire(q.Sort))
	if q.Sort == daemon.SortRelevance {
		e.string("")
	} else {
		e.string(q.SortAttr)
	}
	e.string(q.Term)
	e.int(0) // field weights (legacy)
	e.string(q.Index)

	// id64 range, unbounded
	e.int(1)
	e.uint64(0)
	e.uint64(0)

	e.int(0) // filters

	e.int(groupByDay)
	e.string("")
	maxMatches := defaultMaxMatches
	if n := q.Offset + q.Limit; n > maxMatches {
		maxMatches = n
	}
	e.int(maxMatches)
	e.string("@group desc")
	e.int(0) // cutoff
	e.int(0) // retry count
	e.int(0) // retry delay
	e.string("")

	e.int(0) // no geo anchor
	e.int(0) // per-index weights
	e.int(int(q.MaxQueryTime / time.Millisecond))
	e.int(0) // per-field weights
	e.string("")
	e.int(0) // attribute overrides
	e.string("*")
	return e.buf.Bytes()
}

// encodeSearch wraps query entries in a SEARCH command envelope.
func encodeSearch(queries ...daemon.Query) []byte {
	var body encoder
	body.int(0) // master-agent marker
	body.int(len(queries))
	for _, q := range queries {
		body.buf.Write(encodeQuery(q))
	}

	var e encoder
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], commandSearch)
	binary.BigEndian.PutUint16(hdr[2:4], versionSearch)
	e.buf.Write(hdr[:])
	e.int(body.buf.Len())
	e.buf.Write(body.buf.Bytes())
	return e.buf.Bytes()
}

// decoder reads big-endian fields and remembers the first short read so
// callers can check once at the end of a block.
type decoder struct {
	b   []byte
	off int
	err error
}

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if n < 0 || len(d.b)-d.off < n {
		d.err = fmt.Errorf("truncated response at offset %d (need %d bytes, have %d)", d.off, n, len(d.b)-d.off)
		return false
	}
	return true
}

func (d *decoder) uint32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(d.b[d.off:])
	d.off += 4
	return v
}

func (d *decoder) uint64() uint64 {
	if !d.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(d.b[d.off:])
	d.off += 8
	return v
}

func (d *decoder) string() string {
	n := int(d.uint32())
	if !d.need(n) {
		return ""
	}
	s := string(d.b[d.off : d.off+n])
	d.off += n
	return s
}

// count reads a length prefix and rejects values that cannot possibly fit in
// the remaining body, given each element takes at least minSize bytes.
func (d *decoder) count(minSize int) int {
	n := int(d.uint32())
	if d.err == nil && n*minSize > len(d.b)-d.off {
		d.err = fmt.Errorf("element count %d exceeds remaining %d bytes", n, len(d.b)-d.off)
		return 0
	}
	return n
}

type attr struct {
	name string
	typ  uint32
}

// decodeResult parses one result set from a SEARCH reply.
func decodeResult(d *decoder) (*daemon.Result, error) {
	res := &daemon.Result{}

	status := d.uint32()
	if status != statusOK {
		msg := d.string()
		if status == statusWarning {
			res.Warning = msg
		} else {
			res.Error = msg
			return res, d.err
		}
	}

	nfields := d.count(4)
	for i := 0; i < nfields; i++ {
		d.string()
	}

	nattrs := d.count(8)
	attrs := make([]attr, 0, nattrs)
	for i := 0; i < nattrs; i++ {
		name := d.string()
		attrs = append(attrs, attr{name: name, typ: d.uint32()})
	}

	count := d.count(8)
	id64 := d.uint32() != 0
	res.Matches = make([]daemon.Match, 0, count)
	for i := 0; i < count && d.err == nil; i++ {
		var m daemon.Match
		if id64 {
			m.ID = d.uint64()
		} else {
			m.ID = uint64(d.uint32())
		}
		m.Weight = int(d.uint32())
		m.Attrs = make(map[string]any, len(attrs))
		for _, a := range attrs {
			m.Attrs[a.name] = decodeAttr(d, a.typ)
		}
		res.Matches = append(res.Matches, m)
	}

	res.Total = int(d.uint32())
	res.TotalFound = int(d.uint32())
	res.Took = time.Duration(d.uint32()) * time.Millisecond
	words := d.count(12)
	for i := 0; i < words; i++ {
		d.string()
		d.uint32() // docs
		d.uint32() // hits
	}
	if d.err != nil {
		return nil, d.err
	}
	return res, nil
}

func decodeAttr(d *decoder, typ uint32) any {
	switch typ {
	case attrBigint:
		return int64(d.uint64())
	case attrFloat:
		return float64(math.Float32frombits(d.uint32()))
	case attrString:
		return d.string()
	case attrMulti:
		n := d.count(4)
		vals := make([]uint32, 0, n)
		for i := 0; i < n; i++ {
			vals = append(vals, d.uint32())
		}
		return vals
	case attrMulti64:
		// the count is in 32-bit words
		n := d.count(4)
		vals := make([]int64, 0, n/2)
		for i := 0; i < n/2; i++ {
			vals = append(vals, int64(d.uint64()))
		}
		return vals
	default:
		return d.uint32()
	}
}
