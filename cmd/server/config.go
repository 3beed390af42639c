package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/IvanBrykalov/respcache/accesslog"
	"github.com/IvanBrykalov/respcache/cache"
	"github.com/IvanBrykalov/respcache/internal/logx"
	"github.com/IvanBrykalov/respcache/policy"
	"github.com/IvanBrykalov/respcache/policy/fifo"
	"github.com/IvanBrykalov/respcache/policy/lru"
)

// config is everything the binary can be told, from flags and environment.
type config struct {
	addr string

	// ---- storage ----
	storage       string // local | s3 | minio
	root          string
	bucket        string
	prefix        string
	minioEndpoint string
	minioSecure   bool
	minioAccess   string // $MINIO_ACCESS_KEY
	minioSecret   string // $MINIO_SECRET_KEY
	s3Region      string // $RESPCACHE_S3_REGION
	s3Profile     string // $RESPCACHE_S3_PROFILE

	// ---- cache ----
	engine      string
	lock        string
	policy      string
	capacity    int
	maxSlots    int
	evictWindow int

	// ---- server ----
	maxConns     int
	acceptRate   float64
	acceptBurst  int
	coalesce     bool
	reusePort    bool
	readTimeout  time.Duration
	writeTimeout time.Duration

	// ---- observability ----
	stats       string // "auto" picks the per-engine default file, "none" disables
	statsCodec  string
	logFormat   string
	logLevel    string
	metricsAddr string
	pprof       bool
}

// parseFlags fills a config from args and getenv. Secrets only come from
// the environment so they stay out of process listings.
func parseFlags(fs *flag.FlagSet, args []string, getenv func(string) string) (config, error) {
	var c config
	fs.StringVar(&c.addr, "addr", ":8080", "listen address")

	fs.StringVar(&c.storage, "storage", "local", "storage backend: local | s3 | minio")
	fs.StringVar(&c.root, "root", ".", "site root directory (local storage)")
	fs.StringVar(&c.bucket, "bucket", "", "bucket name (s3, minio)")
	fs.StringVar(&c.prefix, "prefix", "", "key prefix inside the bucket (s3, minio)")
	fs.StringVar(&c.minioEndpoint, "minio-endpoint", "localhost:9000", "MinIO host:port")
	fs.BoolVar(&c.minioSecure, "minio-secure", false, "use TLS for MinIO")

	fs.StringVar(&c.engine, "engine", "refcounted", "cache engine: refcounted | coarse")
	fs.StringVar(&c.lock, "lock", "hold", "coarse engine lock policy: hold | release")
	fs.StringVar(&c.policy, "policy", "lru", "refcounted list policy: lru | fifo")
	fs.IntVar(&c.capacity, "capacity", cache.DefaultCapacity, "live cache entries")
	fs.IntVar(&c.maxSlots, "max-slots", 0, "refcounted storage slots incl. pinned evictions (0 = unbounded)")
	fs.IntVar(&c.evictWindow, "evict-window", 0, "coarse engine eviction window (0 = count/2+1)")

	fs.IntVar(&c.maxConns, "max-conns", 1024, "connections served at once (0 = unlimited)")
	fs.Float64Var(&c.acceptRate, "accept-rate", 0, "accepted connections per second (0 = unlimited)")
	fs.IntVar(&c.acceptBurst, "accept-burst", 64, "accept rate burst")
	fs.BoolVar(&c.coalesce, "coalesce", true, "share one storage read between concurrent misses for a path")
	fs.BoolVar(&c.reusePort, "reuseport", false, "set SO_REUSEPORT on the listener")
	fs.DurationVar(&c.readTimeout, "read-timeout", 10*time.Second, "request line deadline (0 = none)")
	fs.DurationVar(&c.writeTimeout, "write-timeout", time.Minute, "response deadline (0 = none)")

	fs.StringVar(&c.stats, "stats", "auto", "access stats file; auto = stats_cached.txt / stats_cached2.txt by engine; none = off")
	fs.StringVar(&c.statsCodec, "stats-codec", "none", "access stats compression: none | zstd | lz4")
	fs.StringVar(&c.logFormat, "log-format", "auto", "log format: auto | text | json")
	fs.StringVar(&c.logLevel, "log-level", "info", "log level: debug | info | warn | error")
	fs.StringVar(&c.metricsAddr, "metrics", "", "serve Prometheus /metrics at addr (e.g. :9090); empty = disabled")
	fs.BoolVar(&c.pprof, "pprof", false, "also serve /debug/pprof on the metrics address")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	c.minioAccess = getenv("MINIO_ACCESS_KEY")
	c.minioSecret = getenv("MINIO_SECRET_KEY")
	c.s3Region = getenv("RESPCACHE_S3_REGION")
	c.s3Profile = getenv("RESPCACHE_S3_PROFILE")
	return c, c.validate()
}

func (c config) validate() error {
	var errs []error
	switch c.storage {
	case "local":
		if c.root == "" {
			errs = append(errs, errors.New("-root must not be empty"))
		}
	case "s3":
		if c.bucket == "" {
			errs = append(errs, errors.New("-bucket is required for s3 storage"))
		}
	case "minio":
		if c.bucket == "" {
			errs = append(errs, errors.New("-bucket is required for minio storage"))
		}
		if c.minioAccess == "" || c.minioSecret == "" {
			errs = append(errs, errors.New("MINIO_ACCESS_KEY and MINIO_SECRET_KEY must be set for minio storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown -storage %q (use local, s3 or minio)", c.storage))
	}

	if _, err := c.cacheOptions(); err != nil {
		errs = append(errs, err)
	}
	if c.capacity <= 0 {
		errs = append(errs, fmt.Errorf("-capacity must be > 0, got %d", c.capacity))
	}
	if c.maxSlots < 0 || c.evictWindow < 0 || c.maxConns < 0 || c.acceptRate < 0 {
		errs = append(errs, errors.New("-max-slots, -evict-window, -max-conns and -accept-rate must be >= 0"))
	}
	if _, err := accesslog.ParseCodec(c.statsCodec); err != nil {
		errs = append(errs, err)
	}
	switch logx.Format(c.logFormat) {
	case logx.FormatAuto, logx.FormatText, logx.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unknown -log-format %q (use auto, text or json)", c.logFormat))
	}
	if _, err := logx.ParseLevel(c.logLevel); err != nil {
		errs = append(errs, err)
	}
	if c.pprof && c.metricsAddr == "" {
		errs = append(errs, errors.New("-pprof needs -metrics"))
	}
	return errors.Join(errs...)
}

// cacheOptions translates the cache flags. Metrics and Logger are left for
// the caller to fill in.
func (c config) cacheOptions() (cache.Options, error) {
	opt := cache.Options{
		Capacity:    c.capacity,
		MaxSlots:    c.maxSlots,
		EvictWindow: c.evictWindow,
	}

	switch c.engine {
	case "refcounted":
		opt.Engine = cache.EngineRefCounted
	case "coarse":
		opt.Engine = cache.EngineCoarseLocked
	default:
		return opt, fmt.Errorf("unknown -engine %q (use refcounted or coarse)", c.engine)
	}

	switch c.lock {
	case "hold":
		opt.LockPolicy = cache.HoldAcrossTransfer
	case "release":
		opt.LockPolicy = cache.ReleaseBeforeTransfer
	default:
		return opt, fmt.Errorf("unknown -lock %q (use hold or release)", c.lock)
	}

	var pol policy.Factory
	switch c.policy {
	case "lru":
		pol = lru.New()
	case "fifo":
		pol = fifo.New()
	default:
		return opt, fmt.Errorf("unknown -policy %q (use lru or fifo)", c.policy)
	}
	opt.Policy = pol
	return opt, nil
}

// statsPath resolves -stats. The defaults keep the historical file names:
// one per engine so runs can be compared side by side.
func (c config) statsPath() string {
	switch c.stats {
	case "none", "":
		return ""
	case "auto":
		codec, _ := accesslog.ParseCodec(c.statsCodec)
		name := "stats_cached.txt"
		if c.engine == "coarse" {
			name = "stats_cached2.txt"
		}
		return name + codec.Ext()
	default:
		return c.stats
	}
}

func (c config) logLevelValue() slog.Level {
	l, _ := logx.ParseLevel(c.logLevel)
	return l
}
