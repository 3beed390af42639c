// Command server serves static files through the response cache.
//
//	server -root ./site -addr :8080 -engine refcounted -metrics :9090
//
// Access statistics go to stats_cached.txt (refcounted) or
// stats_cached2.txt (coarse) unless -stats says otherwise.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IvanBrykalov/respcache/accesslog"
	"github.com/IvanBrykalov/respcache/cache"
	"github.com/IvanBrykalov/respcache/internal/logx"
	pmet "github.com/IvanBrykalov/respcache/metrics/prom"
	"github.com/IvanBrykalov/respcache/server"
	"github.com/IvanBrykalov/respcache/storage"
	"github.com/IvanBrykalov/respcache/storage/local"
	"github.com/IvanBrykalov/respcache/storage/minio"
	"github.com/IvanBrykalov/respcache/storage/s3"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ server.Metrics = (*pmet.Server)(nil)

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run(cfg config) error {
	log, err := logx.New(os.Stderr, logx.Format(cfg.logFormat), cfg.logLevelValue())
	if err != nil {
		return err
	}

	// Signal-aware context is the root of ownership for long-lived work.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// ---- Prometheus metrics ----
	cacheMetrics := pmet.New(nil, "respcache", "cache", prometheus.Labels{"engine": cfg.engine})
	httpMetrics := pmet.NewServer(nil, "respcache", "http", nil)

	// ---- Build cache ----
	opt, err := cfg.cacheOptions()
	if err != nil {
		return err
	}
	opt.Metrics = cacheMetrics
	opt.Logger = log.With("component", "cache")
	c := cache.New(opt)
	defer func() { _ = c.Close() }()

	// ---- Access statistics ----
	var rec *accesslog.Recorder
	if path := cfg.statsPath(); path != "" {
		codec, _ := accesslog.ParseCodec(cfg.statsCodec)
		rec, err = accesslog.Open(path, codec, log.With("component", "accesslog"))
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Warn("closing access stats", "err", err)
			}
			if n := rec.Errors(); n > 0 {
				log.Warn("access stats had write errors", "count", n)
			}
		}()
	}

	if cfg.metricsAddr != "" {
		go serveDebug(ctx, log, cfg.metricsAddr, cfg.pprof)
	}

	srv, err := server.New(server.Config{
		Addr:         cfg.addr,
		Cache:        c,
		Storage:      store,
		Stats:        rec,
		MaxConns:     cfg.maxConns,
		AcceptRate:   cfg.acceptRate,
		AcceptBurst:  cfg.acceptBurst,
		Coalesce:     cfg.coalesce,
		ReusePort:    cfg.reusePort,
		ReadTimeout:  cfg.readTimeout,
		WriteTimeout: cfg.writeTimeout,
		Metrics:      httpMetrics,
		Logger:       log.With("component", "server"),
	})
	if err != nil {
		return err
	}

	log.Info("starting",
		"engine", opt.Engine.String(),
		"lock", opt.LockPolicy.String(),
		"capacity", opt.Capacity,
		"storage", cfg.storage,
	)
	err = srv.ListenAndServe(ctx)

	st := c.Stats()
	log.Info("stopped",
		"hits", st.Hits,
		"misses", st.Misses,
		"evictions", st.Evictions,
		"retired", st.Retired,
	)
	return err
}

// openStorage builds the configured backend and a cleanup func for it.
func openStorage(ctx context.Context, cfg config) (storage.Reader, func(), error) {
	nop := func() {}
	switch cfg.storage {
	case "s3":
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.s3Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.s3Region))
		}
		if cfg.s3Profile != "" {
			opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.s3Profile))
		}
		st, err := s3.NewFromConfig(ctx, cfg.bucket, cfg.prefix, opts...)
		return st, nop, err
	case "minio":
		st, err := minio.Dial(cfg.minioEndpoint, cfg.minioAccess, cfg.minioSecret, cfg.minioSecure, cfg.bucket, cfg.prefix)
		return st, nop, err
	default:
		st, err := local.New(cfg.root)
		if err != nil {
			return nil, nop, err
		}
		return st, func() { _ = st.Close() }, nil
	}
}

// serveDebug exposes /metrics (and optionally pprof) until ctx is done.
func serveDebug(ctx context.Context, log *slog.Logger, addr string, withPprof bool) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if withPprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	hs := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hs.Shutdown(sctx)
	}()

	log.Info("metrics: serving", "addr", addr, "pprof", withPprof)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server", "err", err)
	}
}
