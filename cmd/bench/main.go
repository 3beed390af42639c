// Command bench runs a synthetic request workload against each cache engine
// and lock policy and exposes optional pprof/Prometheus endpoints.
//
// Every simulated request looks its path up, "transfers" the payload by
// holding the handle for -transfer, and on a miss "reads storage" for
// -read-delay before inserting. The point is the comparison: with
// -lock=hold the coarse engine serializes every hit behind one lock.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/IvanBrykalov/respcache/cache"
	pmet "github.com/IvanBrykalov/respcache/metrics/prom"
	"github.com/IvanBrykalov/respcache/policy/fifo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

type variant struct {
	name string
	opt  cache.Options
}

var variants = map[string]variant{
	"refcounted":      {"refcounted", cache.Options{Engine: cache.EngineRefCounted}},
	"refcounted-fifo": {"refcounted-fifo", cache.Options{Engine: cache.EngineRefCounted, Policy: fifo.New()}},
	"coarse-hold":     {"coarse-hold", cache.Options{Engine: cache.EngineCoarseLocked, LockPolicy: cache.HoldAcrossTransfer}},
	"coarse-release":  {"coarse-release", cache.Options{Engine: cache.EngineCoarseLocked, LockPolicy: cache.ReleaseBeforeTransfer}},
}

type result struct {
	name     string
	requests uint64
	hits     uint64
	elapsed  time.Duration
	stats    cache.Stats
}

func main() {
	// ---- Flags ----
	var (
		which    = flag.String("engines", "refcounted,refcounted-fifo,coarse-hold,coarse-release", "comma-separated variants to run")
		capacity = flag.Int("cap", cache.DefaultCapacity, "cache capacity (entries)")

		workers  = flag.Int("workers", 4*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 5*time.Second, "run length per variant")
		transfer = flag.Duration("transfer", 200*time.Microsecond, "simulated time to send a payload")
		readLat  = flag.Duration("read-delay", 2*time.Millisecond, "simulated storage read on a miss")
		size     = flag.Int("size", 16<<10, "payload size in bytes")

		keys  = flag.Int("keys", 20, "number of distinct paths")
		zipfS = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", "", "serve Prometheus metrics at addr (e.g. :8080); empty = disabled")
	)
	flag.Parse()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	if *metricsAddr != "" {
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			log.Printf("metrics: serving at %s", *metricsAddr)
			log.Println(http.ListenAndServe(*metricsAddr, nil))
		}()
	}

	if *keys < 1 {
		log.Fatalf("-keys must be >= 1, got %d", *keys)
	}
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}
	paths := make([]string, *keys)
	for i := range paths {
		paths[i] = "/static/page-" + strconv.Itoa(i) + ".html"
	}
	payload := make([]byte, *size)

	var results []result
	for _, name := range strings.Split(*which, ",") {
		v, ok := variants[strings.TrimSpace(name)]
		if !ok {
			log.Fatalf("unknown variant %q", name)
		}
		opt := v.opt
		opt.Capacity = *capacity
		opt.Metrics = pmet.New(nil, "respcache", "bench", prometheus.Labels{"variant": v.name})

		res, err := runVariant(v.name, opt, workload{
			workers:  workersN,
			duration: *duration,
			transfer: *transfer,
			readLat:  *readLat,
			paths:    paths,
			payload:  payload,
			seed:     *seed,
			zipfS:    *zipfS,
			zipfV:    *zipfV,
		})
		if err != nil {
			log.Fatalf("%s: %v", v.name, err)
		}
		results = append(results, res)
	}

	// ---- Report ----
	fmt.Printf("cap=%d workers=%d keys=%d size=%d transfer=%v read=%v dur=%v seed=%d\n",
		*capacity, workersN, *keys, *size, *transfer, *readLat, *duration, *seed)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "variant\treq/s\thit-rate\tevictions\tretired\t")
	for _, r := range results {
		hitRate := 0.0
		if r.requests > 0 {
			hitRate = float64(r.hits) / float64(r.requests) * 100
		}
		fmt.Fprintf(tw, "%s\t%.0f\t%.2f%%\t%d\t%d\t\n",
			r.name, float64(r.requests)/r.elapsed.Seconds(), hitRate, r.stats.Evictions, r.stats.Retired)
	}
	_ = tw.Flush()
}

type workload struct {
	workers  int
	duration time.Duration
	transfer time.Duration
	readLat  time.Duration
	paths    []string
	payload  []byte
	seed     int64
	zipfS    float64
	zipfV    float64
}

func runVariant(name string, opt cache.Options, w workload) (result, error) {
	c := cache.New(opt)
	defer func() { _ = c.Close() }()

	var requests, hits uint64
	ctx, cancel := context.WithTimeout(context.Background(), w.duration)
	defer cancel()

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for id := 0; id < w.workers; id++ {
		g.Go(func() error {
			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			r := rand.New(rand.NewSource(w.seed + int64(id)*9973))
			z := rand.NewZipf(r, w.zipfS, w.zipfV, uint64(len(w.paths)-1))

			for ctx.Err() == nil {
				path := w.paths[z.Uint64()]
				atomic.AddUint64(&requests, 1)

				if h, ok := c.Lookup(path); ok {
					atomic.AddUint64(&hits, 1)
					spin(w.transfer)
					h.Release()
					continue
				}

				spin(w.readLat)
				body := append([]byte(nil), w.payload...)
				if err := c.Insert(path, body); err != nil && !errors.Is(err, cache.ErrNoSpace) {
					return err
				}
				spin(w.transfer)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result{}, err
	}

	return result{
		name:     name,
		requests: atomic.LoadUint64(&requests),
		hits:     atomic.LoadUint64(&hits),
		elapsed:  time.Since(start),
		stats:    c.Stats(),
	}, nil
}

// spin stands in for I/O. Sleeping is used for long delays; short ones
// busy-wait because timer granularity would swamp them.
func spin(d time.Duration) {
	if d <= 0 {
		return
	}
	if d >= time.Millisecond {
		time.Sleep(d)
		return
	}
	for start := time.Now(); time.Since(start) < d; {
		runtime.Gosched()
	}
}
