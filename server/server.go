// Package server is the static-file server in front of the response cache.
//
// Each accepted connection carries exactly one request, "GET /<path>", and
// gets one response followed by a close. Hits are written straight from the
// cached payload while the handle is held; misses are read from storage,
// inserted, then written.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/IvanBrykalov/respcache/accesslog"
	"github.com/IvanBrykalov/respcache/cache"
	"github.com/IvanBrykalov/respcache/storage"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Request outcomes as reported to Metrics.
const (
	OutcomeHit        = "hit"
	OutcomeMiss       = "miss"
	OutcomeNotFound   = "not_found"
	OutcomeBadRequest = "bad_request"
	OutcomeError      = "error"
)

// Metrics receives per-request and per-connection events.
type Metrics interface {
	Request(outcome string, bytes int, elapsed time.Duration)
	ConnOpened()
	ConnClosed()
	AcceptError()
}

type nopMetrics struct{}

func (nopMetrics) Request(string, int, time.Duration) {}
func (nopMetrics) ConnOpened()                        {}
func (nopMetrics) ConnClosed()                        {}
func (nopMetrics) AcceptError()                       {}

// Config configures a Server. Cache and Storage are required.
type Config struct {
	Addr    string // listen address for ListenAndServe, e.g. ":8080"
	Cache   cache.Cache
	Storage storage.Reader

	// Stats receives one access record per 200 response; nil disables it.
	Stats *accesslog.Recorder

	// MaxConns caps connections served at once; 0 = unlimited.
	MaxConns int
	// AcceptRate limits accepted connections per second; 0 = unlimited.
	AcceptRate  float64
	AcceptBurst int

	// Coalesce makes concurrent misses for the same path share one
	// storage read.
	Coalesce bool

	// ReusePort sets SO_REUSEPORT on the listener where supported.
	ReusePort bool

	ReadTimeout  time.Duration // request line; 0 = none
	WriteTimeout time.Duration // whole response; 0 = none

	Metrics Metrics
	Logger  *slog.Logger
	Now     func() time.Time // Date header; nil => time.Now
}

// Server serves files from Storage through Cache.
type Server struct {
	cfg     Config
	log     *slog.Logger
	metrics Metrics

	sem     *semaphore.Weighted
	limiter *rate.Limiter
	flight  singleflight.Group

	wg sync.WaitGroup
}

// New validates cfg and builds a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Cache == nil {
		return nil, errors.New("server: Config.Cache is required")
	}
	if cfg.Storage == nil {
		return nil, errors.New("server: Config.Storage is required")
	}
	if cfg.MaxConns < 0 {
		return nil, fmt.Errorf("server: MaxConns must be >= 0, got %d", cfg.MaxConns)
	}
	if cfg.AcceptRate < 0 {
		return nil, fmt.Errorf("server: AcceptRate must be >= 0, got %g", cfg.AcceptRate)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{cfg: cfg, log: cfg.Logger, metrics: cfg.Metrics}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if cfg.MaxConns > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxConns))
	}
	if cfg.AcceptRate > 0 {
		burst := cfg.AcceptBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), burst)
	}
	return s, nil
}

// ListenAndServe listens on Config.Addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := listen(ctx, s.cfg.Addr, s.cfg.ReusePort)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then closes ln
// and waits for in-flight connections to finish. It returns nil after a
// shutdown through ctx and the accept error otherwise.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.wg.Wait()

	s.log.Info("serving", "addr", ln.Addr().String())

	var backoff time.Duration
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		if s.sem != nil {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			s.releaseSlot()
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.metrics.AcceptError()
				s.log.Warn("accept failed; retrying", "err", err, "backoff", backoff)
				time.Sleep(backoff)
				continue
			}
			s.metrics.AcceptError()
			return fmt.Errorf("server: accept: %w", err)
		}
		backoff = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.releaseSlot()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) releaseSlot() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

// serveConn handles the single request on conn and closes it.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	start := time.Now()
	s.metrics.ConnOpened()
	defer s.metrics.ConnClosed()
	defer lingerClose(conn)

	if s.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(start.Add(s.cfg.ReadTimeout))
	}
	name, err := readRequest(conn)
	if err != nil {
		s.log.Debug("bad request", "remote", conn.RemoteAddr().String(), "err", err)
		_, _ = writeAll(conn, respBadRequest)
		s.metrics.Request(OutcomeBadRequest, 0, time.Since(start))
		return
	}

	// Elapsed time covers the response only (fetch on a miss, then the
	// send), not the wait for the request line.
	respStart := time.Now()
	if s.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(respStart.Add(s.cfg.WriteTimeout))
	}

	outcome, sent, err := s.handle(ctx, conn, name)
	elapsed := time.Since(respStart)
	if err != nil {
		s.log.Debug("response failed", "path", name, "outcome", outcome, "sent", sent, "err", err)
	}
	s.metrics.Request(outcome, sent, elapsed)
	if outcome == OutcomeHit || outcome == OutcomeMiss {
		s.cfg.Stats.Record(name, sent, elapsed)
	}
}

// handle writes the response for name to w and reports the outcome and
// the number of body bytes written.
func (s *Server) handle(ctx context.Context, w io.Writer, name string) (string, int, error) {
	key, ok := storage.Clean(name)
	if !ok {
		_, err := writeAll(w, respNotFound)
		return OutcomeNotFound, 0, err
	}

	if h, ok := s.cfg.Cache.Lookup(key); ok {
		defer h.Release()
		n, err := s.respond(w, key, h.Payload())
		return OutcomeHit, n, err
	}

	body, err := s.load(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		_, werr := writeAll(w, respNotFound)
		return OutcomeNotFound, 0, werr
	default:
		s.log.Error("storage read failed", "path", key, "err", err)
		_, _ = writeAll(w, respInternalError)
		return OutcomeError, 0, err
	}

	n, err := s.respond(w, key, body)
	return OutcomeMiss, n, err
}

// load reads key from storage and inserts it into the cache. A failed
// insert is logged and the bytes are still returned.
func (s *Server) load(ctx context.Context, key string) ([]byte, error) {
	fetch := func() ([]byte, error) {
		body, err := s.cfg.Storage.ReadFile(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := s.cfg.Cache.Insert(key, body); err != nil {
			s.log.Warn("response not cached", "path", key, "err", err)
		}
		return body, nil
	}
	if !s.cfg.Coalesce {
		return fetch()
	}

	ch := s.flight.DoChan(key, func() (any, error) { return fetch() })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]byte), nil
	}
}

// respond writes the 200 header and body.
func (s *Server) respond(w io.Writer, key string, body []byte) (int, error) {
	hdr := appendOKHeader(nil, s.cfg.Now(), len(body), contentType(key))
	if _, err := writeAll(w, hdr); err != nil {
		return 0, err
	}
	return writeAll(w, body)
}

// lingerClose half-closes conn and drains what the client still sends, so
// unread request headers do not turn the close into a reset that could
// destroy the response in flight.
func lingerClose(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err == nil {
			_ = conn.SetReadDeadline(time.Now().Add(lingerTimeout))
			_, _ = io.Copy(io.Discard, io.LimitReader(conn, lingerLimit))
		}
	}
	_ = conn.Close()
}

const (
	lingerTimeout = 250 * time.Millisecond
	lingerLimit   = 64 << 10
)
