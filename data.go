package ftp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"regexp"
	"strconv"
)

var (
	// pasvRegex matches the PASV reply format: 227 Entering Passive Mode (h1,h2,h3,h4,p1,p2)
	pasvRegex = regexp.MustCompile(`(\d+),(\d+),(\d+),(\d+),(\d+),(\d+)`)

	// epsvRegex matches the EPSV reply format: 229 Entering Extended Passive Mode (|||port|)
	epsvRegex = regexp.MustCompile(`\(\|\|\|(\d+)\|\)`)
)

// parsePASV parses a PASV reply and returns the host and port.
// Example: "227 Entering Passive Mode (192,168,1,1,195,149)"
// Returns: "192.168.1.1:50069" (195*256 + 149 = 50069)
func parsePASV(reply string) (string, error) {
	matches := pasvRegex.FindStringSubmatch(reply)
	if len(matches) != 7 {
		return "", fmt.Errorf("invalid PASV reply: %s", reply)
	}

	var parts [6]int
	for i := range parts {
		val, err := strconv.Atoi(matches[i+1])
		if err != nil || val < 0 || val > 255 {
			return "", fmt.Errorf("invalid PASV field: %s", matches[i+1])
		}
		parts[i] = val
	}

	host := fmt.Sprintf("%d.%d.%d.%d", parts[0], parts[1], parts[2], parts[3])
	port := parts[4]*256 + parts[5]
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// parseEPSV parses an EPSV reply and returns the port.
// Example: "229 Entering Extended Passive Mode (|||6446|)"
// Returns: "6446"
func parseEPSV(reply string) (string, error) {
	matches := epsvRegex.FindStringSubmatch(reply)
	if len(matches) != 2 {
		return "", fmt.Errorf("invalid EPSV reply: %s", reply)
	}

	port, err := strconv.Atoi(matches[1])
	if err != nil || port <= 0 || port > 65535 {
		return "", fmt.Errorf("invalid EPSV port: %s", matches[1])
	}
	return matches[1], nil
}

// resolveDataAddr replaces an unroutable PASV address (0.0.0.0) with the
// control connection host.
func resolveDataAddr(pasvAddr, controlHost string) string {
	host, port, err := net.SplitHostPort(pasvAddr)
	if err != nil {
		return pasvAddr
	}
	if host == "0.0.0.0" {
		return net.JoinHostPort(controlHost, port)
	}
	return pasvAddr
}

// openDataConn opens a passive data connection, trying EPSV before PASV.
// If TLS is enabled, the data connection uses TLS with session reuse.
func (c *Client) openDataConn(ctx context.Context) (net.Conn, error) {
	var addr string

	if !c.disableEPSV {
		reply, err := c.ExecuteContext(ctx, "EPSV")
		if err != nil {
			return nil, fmt.Errorf("EPSV failed: %w", err)
		}
		switch {
		case reply.Code == 502:
			c.logger.Debug("server does not implement EPSV, using PASV from now on")
			c.disableEPSV = true
		case reply.Is2xx():
			if port, err := parseEPSV(reply.String()); err == nil {
				addr = net.JoinHostPort(c.host, port)
			}
		}
	}

	if addr == "" {
		reply, err := c.expect2xx(ctx, "PASV")
		if err != nil {
			return nil, fmt.Errorf("PASV failed: %w", err)
		}
		addr, err = parsePASV(reply.String())
		if err != nil {
			return nil, err
		}
		addr = resolveDataAddr(addr, c.host)
	}

	conn, err := c.cfg.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to data port: %w", err)
	}

	if c.cfg.tlsMode != tlsModeNone {
		tlsConn := tls.Client(conn, c.cfg.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("data connection TLS handshake failed: %w", err)
		}
		conn = tlsConn
	}

	if c.cfg.Timeout > 0 {
		return &deadlineConn{Conn: conn, timeout: c.cfg.Timeout}, nil
	}
	return conn, nil
}

// dataTransfer is an open data connection and the reply that opened it.
type dataTransfer struct {
	conn    net.Conn
	command string
	reply   *Reply
}

// openTransfer opens a data connection, optionally sends REST, then sends
// the transfer command. A 1xx or 2xx reply starts the transfer; anything
// else closes the data connection and returns the reply together with a
// *ProtocolError.
func (c *Client) openTransfer(ctx context.Context, command string, restart int64) (*dataTransfer, *Reply, error) {
	conn, err := c.openDataConn(ctx)
	if err != nil {
		return nil, nil, err
	}

	if restart > 0 {
		reply, err := c.expectCode(ctx, 350, "REST "+strconv.FormatInt(restart, 10))
		if err != nil {
			conn.Close()
			return nil, reply, err
		}
	}

	reply, err := c.ExecuteContext(ctx, command)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if !reply.Success() {
		conn.Close()
		return nil, reply, newProtocolError(command, reply)
	}

	return &dataTransfer{conn: conn, command: command, reply: reply}, reply, nil
}

// finishTransfer closes the data connection and reads the completion reply
// (usually 226), unless the server already completed the transfer with
// its first reply.
func (c *Client) finishTransfer(ctx context.Context, t *dataTransfer) error {
	if err := t.conn.Close(); err != nil {
		c.logger.Debug("closing data connection", "error", err)
	}

	if t.reply.Is2xx() {
		return nil
	}

	cc := c.conn.Load()
	if cc == nil {
		return &TransferFailedError{Command: t.command, Err: net.ErrClosed}
	}

	reply, err := cc.readReply(ctx)
	if err != nil {
		c.teardown()
		return &TransferFailedError{Command: t.command, Err: fmt.Errorf("failed to read completion reply: %w", err)}
	}
	c.logger.Debug("ftp data transfer complete", "code", reply.Code, "message", reply.Message)

	if !reply.Is2xx() {
		return newProtocolError(t.command, reply)
	}
	return nil
}
