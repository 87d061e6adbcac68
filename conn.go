package ftp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// aLongTimeAgo is a deadline that has always expired. Setting it unblocks
// any pending read or write on a connection.
var aLongTimeAgo = time.Unix(1, 0)

// maxStaleBytes caps how much unsolicited data a single drain discards.
const maxStaleBytes = 64 * 1024

// watchContext interrupts pending I/O on conn when ctx is cancelled.
// The returned function must be called once the I/O is done.
func watchContext(ctx context.Context, conn net.Conn) (stop func() bool) {
	if ctx.Done() == nil {
		return func() bool { return true }
	}
	return context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(aLongTimeAgo)
	})
}

// ioError prefers the context error over the deadline error it caused.
func ioError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return ctxErr
	}
	return err
}

// controlConn is the I/O capability of the control connection. Every
// operation takes a context: a background context blocks until the
// per-operation timeout, a cancellable one additionally returns as soon
// as it is cancelled. Both produce the same bytes on the wire.
type controlConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

func newControlConn(conn net.Conn, timeout time.Duration) *controlConn {
	return &controlConn{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: timeout,
	}
}

func (cc *controlConn) deadline() time.Time {
	if cc.timeout > 0 {
		return time.Now().Add(cc.timeout)
	}
	return time.Time{}
}

func (cc *controlConn) writeLine(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cc.conn.SetWriteDeadline(cc.deadline()); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	stop := watchContext(ctx, cc.conn)
	defer stop()

	if _, err := fmt.Fprintf(cc.conn, "%s\r\n", line); err != nil {
		return ioError(ctx, err)
	}
	return nil
}

func (cc *controlConn) readReply(ctx context.Context) (*Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cc.conn.SetReadDeadline(cc.deadline()); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}
	stop := watchContext(ctx, cc.conn)
	defer stop()

	reply, err := readReply(cc.reader)
	if err != nil {
		return nil, ioError(ctx, err)
	}
	return reply, nil
}

// drain discards bytes left unread on the control connection. It first
// empties the read buffer, then waits up to probe for bytes still in
// flight. A probe timeout is the normal "nothing stale" outcome.
func (cc *controlConn) drain(ctx context.Context, probe time.Duration) ([]byte, error) {
	var stale []byte
	if n := cc.reader.Buffered(); n > 0 {
		b, _ := cc.reader.Peek(n)
		stale = append(stale, b...)
		_, _ = cc.reader.Discard(n)
	}
	if probe <= 0 {
		return stale, nil
	}

	if err := cc.conn.SetReadDeadline(time.Now().Add(probe)); err != nil {
		return stale, err
	}
	stop := watchContext(ctx, cc.conn)
	defer stop()

	buf := make([]byte, 4096)
	for len(stale) < maxStaleBytes {
		n, err := cc.conn.Read(buf)
		stale = append(stale, buf[:n]...)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) && ctx.Err() == nil {
				return stale, nil
			}
			return stale, ioError(ctx, err)
		}
	}
	return stale, nil
}

func (cc *controlConn) close() error {
	return cc.conn.Close()
}

// deadlineConn wraps a net.Conn and sets a read/write deadline before every operation.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (n int, err error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (n int, err error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}
