package ftp

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Execute sends a command line and returns the server's reply, blocking
// until it arrives or the configured timeout expires.
//
// A non-success reply is not an error: inspect Reply.Success. Errors are
// reserved for connection failures (*NotConnectedError,
// *TransferFailedError) and malformed replies (*FormatError).
func (c *Client) Execute(command string) (*Reply, error) {
	return c.ExecuteContext(context.Background(), command)
}

// ExecuteContext is Execute with cancellation. Cancelling ctx interrupts
// the pending socket operation; the client is then disconnected, since
// the reply may still be in flight.
//
// Executing QUIT on a disconnected client returns a successful reply
// without touching the network. Any other command on a disconnected
// client triggers one implicit connect (and login, if the client has
// logged in before).
func (c *Client) ExecuteContext(ctx context.Context, command string) (*Reply, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.cfg.StaleDataCheck && c.staleCheckHold == 0 && c.IsConnected() {
		c.discardStaleData(ctx)
	}

	if !c.IsConnected() {
		if command == "QUIT" {
			c.logger.Info("not sending QUIT because the connection has already been closed")
			return &Reply{
				Code:    200,
				Message: "Connection already closed.",
				Lines:   []string{"200 Connection already closed."},
			}, nil
		}

		c.logger.Debug("not connected, reconnecting before command", "cmd", redactCommand(command))
		if err := c.connect(ctx); err != nil {
			return nil, &NotConnectedError{Err: err}
		}
	}

	return c.exchange(ctx, command)
}

// exchange performs one command/reply round trip on the live connection.
func (c *Client) exchange(ctx context.Context, command string) (*Reply, error) {
	cc := c.conn.Load()
	if cc == nil {
		return nil, &NotConnectedError{Err: errors.New("no control connection")}
	}

	c.busy.Store(true)
	defer c.busy.Store(false)

	logged := redactCommand(command)
	c.logger.Debug("ftp command", "cmd", logged)

	start := time.Now()
	if err := cc.writeLine(ctx, command); err != nil {
		c.teardown()
		return nil, &TransferFailedError{Command: logged, Err: err}
	}
	c.lastCommand = time.Now()

	reply, err := cc.readReply(ctx)
	if err != nil {
		c.teardown()
		var fe *FormatError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, &TransferFailedError{Command: logged, Err: err}
	}

	c.logger.Debug("ftp reply", "code", reply.Code, "message", reply.Message)

	if strings.HasPrefix(command, "CWD ") && reply.Success() {
		c.workDirValid = false
	}

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordCommand(commandVerb(command), reply.Success(), time.Since(start))
	}

	return reply, nil
}

// discardStaleData drains bytes a server left on the control connection,
// such as a late reply to an earlier command. A connection that turns out
// to be dead is dropped so that the command reconnects.
func (c *Client) discardStaleData(ctx context.Context) {
	cc := c.conn.Load()
	stale, err := cc.drain(ctx, c.cfg.StaleDataProbe)
	if len(stale) > 0 {
		c.logger.Warn("discarded stale data on control connection", "bytes", len(stale), "data", string(stale))
	}
	if err != nil {
		c.logger.Debug("control connection lost while checking for stale data", "error", err)
		c.teardown()
	}
}

// SuspendStaleDataCheck disables the stale data check until the returned
// function is called. Use it around sequences where the server is
// expected to send data the client has not asked for yet.
func (c *Client) SuspendStaleDataCheck() (resume func()) {
	c.staleCheckHold++
	resumed := false
	return func() {
		if !resumed {
			resumed = true
			c.staleCheckHold--
		}
	}
}

// redactCommand hides credentials from logs and errors. The command sent
// on the wire is never altered.
func redactCommand(command string) string {
	switch {
	case strings.HasPrefix(command, "USER"):
		return "USER ***"
	case strings.HasPrefix(command, "PASS"):
		return "PASS ***"
	default:
		return command
	}
}

func commandVerb(command string) string {
	verb, _, _ := strings.Cut(command, " ")
	return strings.ToUpper(verb)
}

func cmdLine(command string, args ...string) string {
	if len(args) == 0 {
		return command
	}
	return command + " " + strings.Join(args, " ")
}

// expectCode sends a command and verifies the reply code matches the expected code.
func (c *Client) expectCode(ctx context.Context, expectedCode int, command string) (*Reply, error) {
	reply, err := c.ExecuteContext(ctx, command)
	if err != nil {
		return nil, err
	}
	if reply.Code != expectedCode {
		return reply, newProtocolError(command, reply)
	}
	return reply, nil
}

// expect2xx sends a command and verifies the reply is in the 2xx range.
func (c *Client) expect2xx(ctx context.Context, command string) (*Reply, error) {
	reply, err := c.ExecuteContext(ctx, command)
	if err != nil {
		return nil, err
	}
	if !reply.Is2xx() {
		return reply, newProtocolError(command, reply)
	}
	return reply, nil
}

// expectSuccess sends a command and verifies the reply is a success.
func (c *Client) expectSuccess(ctx context.Context, command string) (*Reply, error) {
	reply, err := c.ExecuteContext(ctx, command)
	if err != nil {
		return nil, err
	}
	if !reply.Success() {
		return reply, newProtocolError(command, reply)
	}
	return reply, nil
}
