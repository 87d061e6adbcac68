package ftp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ftpkit/ftp/internal/ratelimit"
)

// Client is a session with an FTP server. It owns at most one control
// connection at a time.
//
// A Client is not safe for concurrent use: commands must be issued one
// after the other. To run transfers in parallel, Clone the client and
// use one clone per goroutine. Close may be called from any goroutine.
type Client struct {
	addr    string
	host    string
	cfg     Config
	session string
	logger  *slog.Logger
	limiter *ratelimit.Limiter

	// conn is the control connection, nil while disconnected
	conn atomic.Pointer[controlConn]

	// credentials of the last successful login, replayed on reconnect
	user     string
	pass     string
	hasCreds bool

	greeting *Reply
	handler  ServerHandler
	features map[string]string

	// workDir caches the last PWD result until a CWD succeeds
	workDir      string
	workDirValid bool

	currentType string
	disableEPSV bool
	lastCommand time.Time

	// staleCheckHold counts callers that suspended the stale data check
	staleCheckHold int

	closeMu sync.Mutex
	closed  atomic.Bool
	busy    atomic.Bool
}

// New creates a disconnected client for the server at addr ("host:port").
// The connection is established by Connect, or implicitly by the first
// command.
func New(addr string, options ...Option) (*Client, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	cfg := defaultConfig()
	for _, opt := range options {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if cfg.Dialer.Timeout == 0 {
		cfg.Dialer.Timeout = cfg.Timeout
	}

	return newClient(addr, host, cfg, ratelimit.New(cfg.BandwidthLimit)), nil
}

func newClient(addr, host string, cfg Config, limiter *ratelimit.Limiter) *Client {
	session := uuid.NewString()
	return &Client{
		addr:        addr,
		host:        host,
		cfg:         cfg,
		session:     session,
		logger:      cfg.Logger.With("session", session),
		limiter:     limiter,
		handler:     cfg.ServerHandler,
		disableEPSV: cfg.DisableEPSV,
	}
}

// Dial creates a client and connects it to the FTP server at addr.
//
// Example:
//
//	client, err := ftp.Dial(ctx, "ftp.example.com:21")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	if err := client.Login(ctx, "username", "password"); err != nil {
//	    log.Fatal(err)
//	}
func Dial(ctx context.Context, addr string, options ...Option) (*Client, error) {
	c, err := New(addr, options...)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// ConnectURL connects to an FTP server using a URL and logs in.
// Supported schemes: "ftp", "ftps" (implicit), "ftp+explicit" (explicit TLS).
// Format: scheme://[user:password@]host[:port][/path]
//
// Without user information the client logs in anonymously.
func ConnectURL(ctx context.Context, urlStr string, options ...Option) (*Client, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	host := u.Hostname()
	port := u.Port()

	switch strings.ToLower(u.Scheme) {
	case "ftp":
		if port == "" {
			port = "21"
		}
	case "ftps":
		if port == "" {
			port = "990"
		}
		options = append(options, WithImplicitTLS(&tls.Config{ServerName: host}))
	case "ftp+explicit":
		if port == "" {
			port = "21"
		}
		options = append(options, WithExplicitTLS(&tls.Config{ServerName: host}))
	default:
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	c, err := Dial(ctx, net.JoinHostPort(host, port), options...)
	if err != nil {
		return nil, err
	}

	user := u.User.Username()
	pass, _ := u.User.Password()
	if user == "" {
		user = "anonymous"
		pass = "anonymous@"
	}

	if err := c.Login(ctx, user, pass); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("login failed: %w", err)
	}

	if u.Path != "" && u.Path != "/" {
		if err := c.ChangeDir(ctx, u.Path); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to change directory: %w", err)
		}
	}

	return c, nil
}

// Connect establishes the control connection. If the client has logged in
// before, the credentials are replayed. Connect on a connected client is a
// no-op.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.IsConnected() {
		return nil
	}
	return c.connect(ctx)
}

// IsConnected reports whether the client holds a control connection.
func (c *Client) IsConnected() bool {
	return c.conn.Load() != nil
}

// Session returns the identifier attached to this client's log records.
func (c *Client) Session() string {
	return c.session
}

// Config returns a copy of the client's configuration.
func (c *Client) Config() Config {
	return c.cfg.Clone()
}

// connect dials the server, reads the greeting and performs the TLS and
// login handshakes.
func (c *Client) connect(ctx context.Context) error {
	c.logger.Debug("connecting to ftp server", "addr", c.addr, "tls_mode", c.cfg.tlsMode)

	raw, err := c.cfg.Dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if c.cfg.tlsMode == tlsModeImplicit {
		tlsConn, err := c.handshake(ctx, raw, "implicit")
		if err != nil {
			raw.Close()
			return err
		}
		raw = tlsConn
	}

	cc := newControlConn(raw, c.cfg.Timeout)
	greeting, err := cc.readReply(ctx)
	if err != nil {
		cc.close()
		return fmt.Errorf("failed to read greeting: %w", err)
	}
	c.logger.Debug("ftp greeting", "code", greeting.Code, "message", greeting.Message)

	if greeting.Code != 220 {
		cc.close()
		return newProtocolError("CONNECT", greeting)
	}

	c.conn.Store(cc)
	c.greeting = greeting
	c.workDirValid = false
	c.currentType = ""
	c.lastCommand = time.Now()

	if c.handler == nil {
		c.handler = detectServerHandler(greeting)
	}

	if c.cfg.tlsMode == tlsModeExplicit {
		if err := c.upgradeToTLS(ctx); err != nil {
			c.teardown()
			return err
		}
	}

	if c.hasCreds {
		if err := c.authenticate(ctx, c.user, c.pass); err != nil {
			c.teardown()
			return fmt.Errorf("re-login failed: %w", err)
		}
	}

	return nil
}

func (c *Client) handshake(ctx context.Context, conn net.Conn, mode string) (*tls.Conn, error) {
	c.logger.Debug("starting TLS handshake", "mode", mode)
	tlsConn := tls.Client(conn, c.cfg.TLSConfig)

	if c.cfg.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
			return nil, fmt.Errorf("failed to set deadline: %w", err)
		}
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	c.logger.Debug("TLS handshake complete", "mode", mode)
	return tlsConn, nil
}

// upgradeToTLS upgrades the connection to TLS using AUTH TLS.
func (c *Client) upgradeToTLS(ctx context.Context) error {
	if _, err := c.expectCode(ctx, 234, "AUTH TLS"); err != nil {
		return fmt.Errorf("AUTH TLS failed: %w", err)
	}

	cc := c.conn.Load()
	tlsConn, err := c.handshake(ctx, cc.conn, "explicit")
	if err != nil {
		return err
	}
	c.conn.Store(newControlConn(tlsConn, c.cfg.Timeout))

	if _, err := c.expectCode(ctx, 200, "PBSZ 0"); err != nil {
		return fmt.Errorf("PBSZ failed: %w", err)
	}
	if _, err := c.expectCode(ctx, 200, "PROT P"); err != nil {
		return fmt.Errorf("PROT failed: %w", err)
	}
	return nil
}

// Login authenticates with the FTP server using the provided username and
// password. The credentials are kept so that an implicit reconnect can log
// in again.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	if err := c.authenticate(ctx, username, password); err != nil {
		return err
	}
	c.user, c.pass, c.hasCreds = username, password, true
	return nil
}

func (c *Client) authenticate(ctx context.Context, username, password string) error {
	reply, err := c.exchange(ctx, "USER "+username)
	if err != nil {
		return err
	}

	// 230: logged in without a password
	if reply.Code == 230 {
		return nil
	}
	if reply.Code != 331 {
		return newProtocolError("USER", reply)
	}

	reply, err = c.exchange(ctx, "PASS "+password)
	if err != nil {
		return err
	}
	if reply.Code != 230 && reply.Code != 202 {
		return newProtocolError("PASS", reply)
	}
	return nil
}

// Clone returns a new, disconnected client with the same address,
// configuration, credentials, server handler and negotiated features.
// The clone owns its own control connection, established on first use,
// so it can run a transfer in parallel with the original.
//
// Configuration is deep-copied: changing the clone never affects the
// original or other clones.
func (c *Client) Clone() *Client {
	clone := newClient(c.addr, c.host, c.cfg.Clone(), c.limiter)
	clone.user, clone.pass, clone.hasCreds = c.user, c.pass, c.hasCreds
	clone.handler = c.handler
	clone.greeting = c.greeting
	clone.disableEPSV = c.disableEPSV

	if c.features != nil {
		clone.features = maps.Clone(c.features)
	} else {
		clone.logger.Warn("cloned client has no negotiated features, FEAT will be re-sent", "origin", c.session)
	}

	c.logger.Debug("cloned client", "clone", clone.session)
	return clone
}

// Disconnect sends QUIT and releases the control connection. The client
// can be connected again afterwards. Disconnecting a disconnected client
// is a no-op.
func (c *Client) Disconnect(ctx context.Context) error {
	if !c.IsConnected() {
		return nil
	}
	_, err := c.ExecuteContext(ctx, "QUIT")
	c.teardown()
	return err
}

// Close disconnects from the server and releases all resources. It is
// safe to call multiple times and from multiple goroutines; it never
// fails. A client cannot be used after Close.
func (c *Client) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)

	cc := c.conn.Load()
	if cc == nil {
		return nil
	}

	// Another goroutine is mid-exchange: closing the socket unblocks it.
	if c.busy.Load() {
		_ = cc.close()
		return nil
	}

	timeout := c.cfg.Timeout
	if timeout <= 0 || timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if _, err := c.exchange(ctx, "QUIT"); err != nil {
		c.logger.Debug("QUIT during close failed", "error", err)
	}
	c.teardown()
	return nil
}

// teardown drops the control connection without talking to the server.
func (c *Client) teardown() {
	cc := c.conn.Swap(nil)
	if cc == nil {
		return
	}
	if err := cc.close(); err != nil {
		c.logger.Debug("closing control connection", "error", err)
	}
	c.workDirValid = false
	c.currentType = ""
}

// Features queries the server for supported features using the FEAT command.
// Returns a map of feature names to their parameters (if any). The result
// is cached; a server that rejects FEAT is cached as having no features.
func (c *Client) Features(ctx context.Context) (map[string]string, error) {
	if c.features != nil {
		return c.features, nil
	}

	reply, err := c.ExecuteContext(ctx, "FEAT")
	if err != nil {
		return nil, err
	}

	if reply.Code != 211 {
		c.features = map[string]string{}
		return c.features, nil
	}

	c.features = parseFeatureLines(reply.Lines)
	return c.features, nil
}

// HasFeature checks if the server supports a specific feature.
func (c *Client) HasFeature(ctx context.Context, feature string) bool {
	feats, err := c.Features(ctx)
	if err != nil {
		return false
	}
	_, ok := feats[strings.ToUpper(feature)]
	return ok
}

// parseFeatureLines parses the lines of a FEAT reply.
// Supports both formats:
// - RFC 2389: "211-Features:\r\n FEAT1\r\n FEAT2 params\r\n211 End"
// - Traditional: "211-Features\r\n211-FEAT1\r\n211-FEAT2 params\r\n211 End"
func parseFeatureLines(lines []string) map[string]string {
	features := make(map[string]string)
	for i, line := range lines {
		var featureLine string
		switch {
		case len(line) > 0 && line[0] == ' ':
			featureLine = strings.TrimSpace(line)
		case i > 0 && i < len(lines)-1 && len(line) > 4 && line[3] == '-':
			featureLine = strings.TrimSpace(line[4:])
		default:
			continue
		}
		if featureLine == "" {
			continue
		}

		name, params, _ := strings.Cut(featureLine, " ")
		features[strings.ToUpper(name)] = params
	}
	return features
}

// CurrentDir returns the current working directory. The value is cached
// until a CWD succeeds.
func (c *Client) CurrentDir(ctx context.Context) (string, error) {
	if c.workDirValid && c.IsConnected() {
		return c.workDir, nil
	}

	reply, err := c.expect2xx(ctx, "PWD")
	if err != nil {
		return "", err
	}

	// Example: 257 "/home/user" is the current directory
	msg := reply.Message
	start := strings.Index(msg, "\"")
	end := strings.LastIndex(msg, "\"")
	if start == -1 || end <= start {
		return "", fmt.Errorf("invalid PWD reply: %s", msg)
	}

	c.workDir = strings.ReplaceAll(msg[start+1:end], `""`, `"`)
	c.workDirValid = true
	return c.workDir, nil
}

// ChangeDir changes the current working directory.
func (c *Client) ChangeDir(ctx context.Context, dir string) error {
	if strings.TrimSpace(dir) == "" {
		return &ArgumentError{Name: "path", Reason: "required parameter is blank"}
	}
	_, err := c.expect2xx(ctx, "CWD "+normalizePath(dir))
	return err
}

// Type sets the transfer type (e.g., "A", "I").
func (c *Client) Type(ctx context.Context, transferType string) error {
	if c.currentType == transferType && c.IsConnected() {
		c.logger.Debug("transfer type already set, skipping TYPE command", "type", transferType)
		return nil
	}

	if _, err := c.expectCode(ctx, 200, "TYPE "+transferType); err != nil {
		return err
	}
	c.currentType = transferType
	return nil
}

// Size returns the size of a file in bytes.
func (c *Client) Size(ctx context.Context, remotePath string) (int64, error) {
	reply, err := c.expectCode(ctx, 213, "SIZE "+remotePath)
	if err != nil {
		return 0, err
	}

	var size int64
	if _, err := fmt.Sscanf(reply.Message, "%d", &size); err != nil {
		return 0, fmt.Errorf("invalid SIZE reply: %s", reply.Message)
	}
	return size, nil
}

// Noop sends a NOOP (no operation) command to the server.
func (c *Client) Noop(ctx context.Context) error {
	_, err := c.expect2xx(ctx, "NOOP")
	return err
}

// Quote sends a raw command to the server and returns the reply.
// This allows sending commands that are not explicitly supported by the client.
//
// Example:
//
//	reply, err := client.Quote(ctx, "SITE", "CHMOD", "755", "script.sh")
func (c *Client) Quote(ctx context.Context, command string, args ...string) (*Reply, error) {
	return c.ExecuteContext(ctx, cmdLine(command, args...))
}
