// Command ftpctl is a small FTP client for scripted maintenance: removing
// directory trees, resumable downloads and raw commands.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ftpkit/ftp"
	"github.com/ftpkit/ftp/ftpmetrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		newPrinter(stdout, stderr).Failure("%v", err)
		return 1
	}
	return 0
}

// app is the state shared by all subcommands of one invocation.
type app struct {
	v        *viper.Viper
	cfg      *settings
	logger   *slog.Logger
	out      *printer
	registry *prometheus.Registry
	metrics  *ftpmetrics.Collector
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{
		v:      newViper(),
		out:    newPrinter(stdout, stderr),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	var (
		configFile string
		noColor    bool
	)

	rootCmd := &cobra.Command{
		Use:   "ftpctl",
		Short: "ftpctl - FTP maintenance client",
		Long: `ftpctl talks to FTP and FTPS servers.

Configuration is read from ~/.config/ftpctl/config.yaml, FTPCTL_*
environment variables and flags, in increasing order of precedence.

Examples:
  ftpctl --server ftp.example.com --user bob rmdir /tmp/build
  ftpctl get /pub/image.iso --resume
  ftpctl mget /logs/a.log /logs/b.log --dir ./logs --parallel 2
  ftpctl quote SITE CHMOD 755 /bin/run.sh`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				color.NoColor = true
			}

			if err := readConfig(a.v, configFile); err != nil {
				return err
			}
			cfg, err := loadSettings(a.v)
			if err != nil {
				return err
			}
			a.cfg = cfg

			var level slog.Level
			if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
				return fmt.Errorf("invalid log level %q: use debug, info, warn or error", cfg.LogLevel)
			}
			a.logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

			if cfg.MetricsFile != "" {
				a.registry = prometheus.NewRegistry()
				a.metrics = ftpmetrics.NewCollector(a.registry)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.registry == nil {
				return nil
			}
			if err := prometheus.WriteToTextfile(a.cfg.MetricsFile, a.registry); err != nil {
				return fmt.Errorf("failed to write metrics: %w", err)
			}
			a.logger.Debug("metrics written", "path", a.cfg.MetricsFile)
			return nil
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default ~/.config/ftpctl/config.yaml)")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")
	flags.String("server", "", "Server address or URL (ftp://, ftps://, ftp+explicit://)")
	flags.String("user", "", "Login user (anonymous when empty)")
	flags.String("password", "", "Login password")
	flags.Duration("timeout", ftp.DefaultTimeout, "Timeout for each network operation")
	flags.Int("chunk-size", ftp.DefaultChunkSize, "Download chunk size in bytes")
	flags.Int64("bandwidth-limit", 0, "Download rate limit in bytes per second (0 = unlimited)")
	flags.Bool("stale-check", true, "Discard unsolicited server data before each command")
	flags.String("log-level", DefaultLogLevel, "Log level: debug, info, warn, error")
	flags.String("metrics-file", "", "Write Prometheus metrics to this file on exit")

	rootCmd.AddCommand(newRmdirCmd(a))
	rootCmd.AddCommand(newGetCmd(a))
	rootCmd.AddCommand(newMgetCmd(a))
	rootCmd.AddCommand(newQuoteCmd(a))
	rootCmd.AddCommand(newConfigCmd(a, &configFile))

	if err := bindFlags(a.v, flags); err != nil {
		panic(err)
	}
	for _, cmd := range rootCmd.Commands() {
		if err := bindFlags(a.v, cmd.Flags()); err != nil {
			panic(err)
		}
	}

	return rootCmd
}

// dial connects and logs in with the effective settings.
func (a *app) dial(ctx context.Context) (*ftp.Client, error) {
	target, err := a.cfg.loginURL()
	if err != nil {
		return nil, err
	}

	opts := []ftp.Option{
		ftp.WithLogger(a.logger),
		ftp.WithTimeout(a.cfg.Timeout),
		ftp.WithChunkSize(a.cfg.ChunkSize),
		ftp.WithBandwidthLimit(a.cfg.BandwidthLimit),
		ftp.WithStaleDataCheck(a.cfg.StaleCheck, ftp.DefaultStaleDataProbe),
	}
	if a.metrics != nil {
		opts = append(opts, ftp.WithMetrics(a.metrics))
	}

	c, err := ftp.ConnectURL(ctx, target, opts...)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("connected", "server", a.cfg.Server, "session", c.Session())
	return c, nil
}
