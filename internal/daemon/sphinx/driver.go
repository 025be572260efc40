// Package sphinx is a daemon.Driver speaking the native SphinxAPI binary
// protocol to searchd over TCP. Every query dials a new connection.
package sphinx

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/daemon"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/errors"
)

// Driver queries searchd.
type Driver struct {
	dialer *net.Dialer
	logger *slog.Logger
}

func New() *Driver {
	return &Driver{
		dialer: &net.Dialer{KeepAlive: -1},
		logger: slog.Default().With("component", "sphinx-driver"),
	}
}

func (d *Driver) Name() string { return "sphinx" }

// Query runs q as a single-entry SEARCH batch. A window that does not fit
// the wire format fails before connecting. Daemon-reported query errors
// are returned in Result.Error; transport and framing failures are returned
// as errors wrapping the daemon failure sentinels.
func (d *Driver) Query(ctx context.Context, ep daemon.Endpoint, q daemon.Query) (*daemon.Result, error) {
	if err := checkWindow(q); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrDaemonProtocol, err)
	}
	conn, err := d.dialer.DialContext(ctx, "tcp", ep.String())
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("connecting to searchd at %s: %w", ep, err), apperrors.ErrDaemonUnavailable)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := handshake(conn); err != nil {
		return nil, classify(ctx, err, apperrors.ErrDaemonUnavailable)
	}
	if _, err := conn.Write(encodeSearch(q)); err != nil {
		return nil, classify(ctx, fmt.Errorf("sending query: %w", err), apperrors.ErrDaemonUnavailable)
	}

	body, warning, err := readReply(conn)
	if err != nil {
		return nil, classify(ctx, err, apperrors.ErrDaemonProtocol)
	}

	res, err := decodeResult(&decoder{b: body})
	if err != nil {
		return nil, fmt.Errorf("%w: decoding reply: %v", apperrors.ErrDaemonProtocol, err)
	}
	if res.Warning == "" {
		res.Warning = warning
	}
	d.logger.Debug("query complete",
		"endpoint", ep.String(),
		"index", q.Index,
		"total", res.Total,
		"matches", len(res.Matches),
		"took", res.Took,
	)
	return res, nil
}

// handshake exchanges protocol versions. The client version is written
// before reading so the exchange is not serialised behind Nagle.
func handshake(conn net.Conn) error {
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], clientProtocol)
	if _, err := conn.Write(out[:]); err != nil {
		return fmt.Errorf("sending client version: %w", err)
	}
	var in [4]byte
	if _, err := io.ReadFull(conn, in[:]); err != nil {
		return fmt.Errorf("reading server version: %w", err)
	}
	if v := binary.BigEndian.Uint32(in[:]); v < 1 {
		return fmt.Errorf("%w: expected searchd protocol 1+, got %d", apperrors.ErrDaemonProtocol, v)
	}
	return nil
}

// readReply reads the reply header and body. A top-level warning is split
// off and returned alongside the remaining body.
func readReply(r io.Reader) (body []byte, warning string, err error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, "", fmt.Errorf("reading reply header: %w", err)
	}
	status := binary.BigEndian.Uint16(hdr[0:2])
	ver := binary.BigEndian.Uint16(hdr[2:4])
	length := binary.BigEndian.Uint32(hdr[4:8])
	if length > maxResponseLen {
		return nil, "", fmt.Errorf("%w: reply length %d too large", apperrors.ErrDaemonProtocol, length)
	}

	body = make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, "", fmt.Errorf("reading reply body (%d bytes): %w", length, err)
	}

	switch status {
	case statusOK:
	case statusWarning:
		d := &decoder{b: body}
		warning = d.string()
		if d.err != nil {
			return nil, "", fmt.Errorf("%w: %v", apperrors.ErrDaemonProtocol, d.err)
		}
		body = body[d.off:]
	case statusError:
		return nil, "", fmt.Errorf("%w: searchd error: %s", apperrors.ErrDaemonProtocol, trimMessage(body))
	case statusRetry:
		return nil, "", fmt.Errorf("%w: temporary searchd error: %s", apperrors.ErrDaemonUnavailable, trimMessage(body))
	default:
		return nil, "", fmt.Errorf("%w: unknown status code %d", apperrors.ErrDaemonProtocol, status)
	}

	if ver < versionSearch && warning == "" {
		warning = fmt.Sprintf("searchd command v.%d.%d older than client's v.%d.%d, some options might not work",
			ver>>8, ver&0xff, versionSearch>>8, versionSearch&0xff)
	}
	return body, warning, nil
}

// trimMessage skips the length prefix of an error body when present.
func trimMessage(body []byte) string {
	if len(body) >= 4 {
		return string(body[4:])
	}
	return string(body)
}

// classify attaches the timeout sentinel when the failure came from the
// context deadline, and fallback otherwise. Errors that already carry a
// daemon sentinel keep it.
func classify(ctx context.Context, err error, fallback error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %v", apperrors.ErrDaemonTimeout, err)
	}
	if apperrors.IsDaemonFailure(err) {
		return err
	}
	return fmt.Errorf("%w: %v", fallback, err)
}
