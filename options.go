package ftp

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
)

const (
	// DefaultTimeout bounds every control and data connection operation.
	DefaultTimeout = 30 * time.Second

	// DefaultChunkSize is the number of bytes read from the data
	// connection per chunk during a download.
	DefaultChunkSize = 64 * 1024

	// DefaultStaleDataProbe is how long the client waits for unsolicited
	// bytes on the control connection before sending a command. It is
	// paid on every command; see WithStaleDataCheck.
	DefaultStaleDataProbe = 2 * time.Millisecond
)

// Config is the configuration snapshot of a Client. A Client never shares
// its Config with another Client: Clone makes a deep copy.
type Config struct {
	// Timeout is the timeout for connection and read/write operations.
	Timeout time.Duration

	// TLSConfig is the TLS configuration, nil for plain FTP.
	TLSConfig *tls.Config

	// StaleDataCheck enables draining of unread control connection bytes
	// before each command.
	StaleDataCheck bool

	// StaleDataProbe is how long to wait for stale bytes on the socket.
	// Zero only discards bytes that were already buffered.
	StaleDataProbe time.Duration

	// ChunkSize is the download chunk size in bytes.
	ChunkSize int

	// BandwidthLimit caps data connection throughput in bytes per second,
	// zero means unlimited. The limit is shared by a Client and its clones.
	BandwidthLimit int64

	// DisableEPSV forces PASV for data connections.
	DisableEPSV bool

	// Dialer is used to establish control and data connections.
	Dialer net.Dialer

	// Logger receives debug output. Never nil after New.
	Logger *slog.Logger

	// Metrics receives command and transfer observations. Optional.
	Metrics MetricsCollector

	// Lister enumerates directories for recursive deletion. Nil selects
	// the built-in MLSD/LIST lister.
	Lister Lister

	// ServerHandler overrides server-specific operations. Nil selects a
	// handler based on the server greeting.
	ServerHandler ServerHandler

	tlsMode tlsMode
}

// Clone returns a deep copy of the configuration. The logger, metrics
// collector, lister and server handler are shared: they are sinks or
// strategies rather than mutable settings.
func (cfg *Config) Clone() Config {
	out := *cfg
	if cfg.TLSConfig != nil {
		out.TLSConfig = cfg.TLSConfig.Clone()
	}
	return out
}

func defaultConfig() Config {
	return Config{
		Timeout:        DefaultTimeout,
		StaleDataCheck: true,
		StaleDataProbe: DefaultStaleDataProbe,
		ChunkSize:      DefaultChunkSize,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Option is a functional option for configuring an FTP client.
type Option func(*Config) error

// WithTimeout sets the timeout for connection and operations.
// This applies to both the initial connection and subsequent read/write operations.
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *Config) error {
		if timeout < 0 {
			return fmt.Errorf("timeout must not be negative")
		}
		cfg.Timeout = timeout
		return nil
	}
}

// WithExplicitTLS enables explicit TLS mode (AUTH TLS).
// The client connects on the standard FTP port (21) and upgrades to TLS
// using the AUTH TLS command. This is the recommended mode for FTPS.
//
// The provided tls.Config should include the ServerName for certificate validation.
// A ClientSessionCache will be automatically added if not present to enable
// TLS session reuse for data connections.
func WithExplicitTLS(config *tls.Config) Option {
	return func(cfg *Config) error {
		if cfg.tlsMode == tlsModeImplicit {
			return fmt.Errorf("explicit TLS cannot be combined with implicit TLS")
		}
		cfg.TLSConfig = withSessionCache(config)
		cfg.tlsMode = tlsModeExplicit
		return nil
	}
}

// WithImplicitTLS enables implicit TLS mode.
// The client connects directly with TLS, typically on port 990.
func WithImplicitTLS(config *tls.Config) Option {
	return func(cfg *Config) error {
		if cfg.tlsMode == tlsModeExplicit {
			return fmt.Errorf("implicit TLS cannot be combined with explicit TLS")
		}
		cfg.TLSConfig = withSessionCache(config)
		cfg.tlsMode = tlsModeImplicit
		return nil
	}
}

func withSessionCache(config *tls.Config) *tls.Config {
	if config == nil {
		config = &tls.Config{}
	}
	if config.ClientSessionCache == nil {
		config.ClientSessionCache = tls.NewLRUClientSessionCache(0)
	}
	return config
}

// WithLogger enables debug logging using the provided logger.
// All FTP commands and replies will be logged at debug level, with
// USER and PASS arguments redacted.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	client, _ := ftp.Dial(ctx, "ftp.example.com:21", ftp.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *Config) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		cfg.Logger = logger
		return nil
	}
}

// WithDialer sets a custom net.Dialer for establishing connections.
// The dialer is copied.
func WithDialer(dialer *net.Dialer) Option {
	return func(cfg *Config) error {
		if dialer != nil {
			cfg.Dialer = *dialer
		}
		return nil
	}
}

// WithStaleDataCheck enables or disables draining of stale control
// connection data before each command. probe is how long to wait for
// bytes that are still in flight.
//
// The probe delays every command by up to probe, so a DeleteDirectory
// over 10,000 entries spends about 20s waiting at the 2ms default. A
// probe of 0 only discards bytes already read into the client's buffer
// and adds no delay. Transfers suspend the check on their own.
func WithStaleDataCheck(enabled bool, probe time.Duration) Option {
	return func(cfg *Config) error {
		cfg.StaleDataCheck = enabled
		cfg.StaleDataProbe = probe
		return nil
	}
}

// WithChunkSize sets the download chunk size.
func WithChunkSize(size int) Option {
	return func(cfg *Config) error {
		if size <= 0 {
			return fmt.Errorf("chunk size must be positive, got %d", size)
		}
		cfg.ChunkSize = size
		return nil
	}
}

// WithBandwidthLimit limits data transfers to bytesPerSecond.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(cfg *Config) error {
		if bytesPerSecond < 0 {
			return fmt.Errorf("bandwidth limit must not be negative")
		}
		cfg.BandwidthLimit = bytesPerSecond
		return nil
	}
}

// WithDisableEPSV disables the use of the EPSV command.
// By default, the client tries EPSV before falling back to PASV.
func WithDisableEPSV() Option {
	return func(cfg *Config) error {
		cfg.DisableEPSV = true
		return nil
	}
}

// WithMetrics registers a collector for command and transfer metrics.
func WithMetrics(m MetricsCollector) Option {
	return func(cfg *Config) error {
		cfg.Metrics = m
		return nil
	}
}

// WithLister replaces the directory lister used by DeleteDirectory.
func WithLister(l Lister) Option {
	return func(cfg *Config) error {
		cfg.Lister = l
		return nil
	}
}

// WithServerHandler sets the server-specific handler, disabling detection
// from the greeting. Pass NoServerHandler{} to always use the generic
// algorithms.
func WithServerHandler(h ServerHandler) Option {
	return func(cfg *Config) error {
		cfg.ServerHandler = h
		return nil
	}
}

// tlsMode represents the TLS mode for the connection.
type tlsMode int

const (
	tlsModeNone tlsMode = iota
	tlsModeExplicit
	tlsModeImplicit
)

func (m tlsMode) String() string {
	switch m {
	case tlsModeExplicit:
		return "explicit"
	case tlsModeImplicit:
		return "implicit"
	default:
		return "none"
	}
}
