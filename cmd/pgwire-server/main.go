package main

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yydzero/pgwire/config"
	"github.com/yydzero/pgwire/executor/fake"
	"github.com/yydzero/pgwire/libpq"
	"go.uber.org/zap"
)

var (
	v          = viper.New()
	configPath string
)

var rootCmd = &cobra.Command{
	Use:          "pgwire-server",
	Short:        "PostgreSQL wire protocol server backed by a fake executor",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v, configPath)
		if err != nil {
			return err
		}
		l, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = l.Sync() }()
		return run(cfg, l)
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", "", "config file")
	flags.String("host", "", "host to listen on")
	flags.IntP("port", "p", 5432, "first port to listen on")
	flags.IntP("listeners", "c", 1, "number of listeners on consecutive ports")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "console", "log format: console or json")
	flags.String("metrics-addr", "", "prometheus metrics address, e.g. :9187")

	for key, flag := range map[string]string{
		"host":         "host",
		"port":         "port",
		"listeners":    "listeners",
		"log_level":    "log-level",
		"log_format":   "log-format",
		"metrics_addr": "metrics-addr",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	conf := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		conf = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", cfg.LogLevel)
	}
	conf.Level = level
	return conf.Build()
}

func run(cfg config.Config, l *zap.Logger) error {
	listeners, err := listen(cfg)
	if err != nil {
		return err
	}

	opts := []libpq.Option{libpq.WithLogger(l)}

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, libpq.WithMetrics(libpq.NewMetrics(reg)))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				l.Error("metrics endpoint stopped", zap.Error(err))
			}
		}()
	}

	s := libpq.NewServer(&fake.FakeExecutor{}, opts...)

	var wg sync.WaitGroup
	errs := make(chan error, len(listeners))
	for _, ln := range listeners {
		l.Info("listening", zap.Stringer("addr", ln.Addr()))

		wg.Add(1)
		go func(ln net.Listener) {
			defer wg.Done()
			errs <- acceptLoop(ln, s, l)
		}(ln)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}

	l.Info("terminated")
	return nil
}

// listen opens cfg.Listeners listeners on consecutive ports. If one of
// them fails, the ones already open are closed.
func listen(cfg config.Config) ([]net.Listener, error) {
	listeners := make([]net.Listener, 0, cfg.Listeners)
	for i := 0; i < cfg.Listeners; i++ {
		addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port+i))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, opened := range listeners {
				_ = opened.Close()
			}
			return nil, errors.Wrapf(err, "listen on %s", addr)
		}
		listeners = append(listeners, ln)
	}
	return listeners, nil
}

func acceptLoop(ln net.Listener, s *libpq.Server, l *zap.Logger) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return errors.Wrap(err, "accept")
		}
		go handleConnection(conn, s, l)
	}
}

func handleConnection(conn net.Conn, s *libpq.Server, l *zap.Logger) {
	l = l.With(zap.Stringer("remote", conn.RemoteAddr()))
	l.Debug("new connection")

	err := s.Serve(conn)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		l.Debug("client closed connection")
	default:
		l.Warn("failed to handle a connection", zap.Error(err))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
