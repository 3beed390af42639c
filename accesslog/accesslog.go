// Package accesslog records one line of access statistics per served
// request: the request path, the number of body bytes sent and the time
// from accept to the last byte, as
//
//	<path>\t<bytes>\t<seconds>.<nanoseconds, 9 digits>\n
//
// The output can be written plain or through a zstd or lz4 stream.
// Recording never fails from the caller's point of view: write errors are
// counted and logged.
package accesslog

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the on-disk encoding of the log.
type Codec int

const (
	CodecNone Codec = iota
	CodecZstd
	CodecLZ4
)

// ParseCodec maps "none", "zstd" and "lz4" to a Codec.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "", "none":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	}
	return CodecNone, fmt.Errorf("accesslog: unknown codec %q (use none, zstd or lz4)", s)
}

func (c Codec) String() string {
	switch c {
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return "none"
	}
}

// Ext returns the file name suffix conventionally used for the codec.
func (c Codec) Ext() string {
	switch c {
	case CodecZstd:
		return ".zst"
	case CodecLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// Recorder appends access records to a sink. A nil *Recorder discards
// records, so callers need no "stats disabled" branch.
type Recorder struct {
	mu   sync.Mutex
	buf  *bufio.Writer
	enc  io.WriteCloser // compressor under buf; nil for CodecNone
	file *os.File       // set by Open; closed by Close
	line []byte

	errs atomic.Uint64
	log  *slog.Logger
}

// New returns a recorder writing to w. Plain output is flushed to w after
// every record; compressed output is flushed when the recorder is closed.
func New(w io.Writer, codec Codec, log *slog.Logger) (*Recorder, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	r := &Recorder{log: log}

	var dst io.Writer = w
	switch codec {
	case CodecNone:
	case CodecZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("accesslog: zstd writer: %w", err)
		}
		r.enc, dst = enc, enc
	case CodecLZ4:
		enc := lz4.NewWriter(w)
		r.enc, dst = enc, enc
	default:
		return nil, fmt.Errorf("accesslog: unknown codec %d", codec)
	}
	r.buf = bufio.NewWriter(dst)
	return r, nil
}

// Open creates (or truncates) the file at path and returns a recorder on it.
func Open(path string, codec Codec, log *slog.Logger) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("accesslog: %w", err)
	}
	r, err := New(f, codec, log)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.file = f
	return r, nil
}

// Record appends one line. It is safe for concurrent use.
func (r *Recorder) Record(path string, bytes int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.line = AppendRecord(r.line[:0], path, bytes, elapsed)
	if _, err := r.buf.Write(r.line); err != nil {
		r.fail("write", err)
		return
	}
	if r.enc == nil {
		if err := r.buf.Flush(); err != nil {
			r.fail("flush", err)
		}
	}
}

func (r *Recorder) fail(op string, err error) {
	r.errs.Add(1)
	r.log.Debug("access log "+op+" failed", "err", err)
}

// Errors returns the number of failed writes so far.
func (r *Recorder) Errors() uint64 {
	if r == nil {
		return 0
	}
	return r.errs.Load()
}

// Close flushes buffered records, finishes the compressed stream and
// closes the file if the recorder opened it.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.buf.Flush()
	if r.enc != nil {
		if cerr := r.enc.Close(); err == nil {
			err = cerr
		}
	}
	if r.file != nil {
		if cerr := r.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// AppendRecord appends one formatted record to dst.
func AppendRecord(dst []byte, path string, bytes int, elapsed time.Duration) []byte {
	if elapsed < 0 {
		elapsed = 0
	}
	sec := int64(elapsed / time.Second)
	nsec := int64(elapsed % time.Second)

	dst = append(dst, path...)
	dst = append(dst, '\t')
	dst = strconv.AppendInt(dst, int64(bytes), 10)
	dst = append(dst, '\t')
	dst = strconv.AppendInt(dst, sec, 10)
	dst = append(dst, '.')
	var frac [9]byte
	for i := len(frac) - 1; i >= 0; i-- {
		frac[i] = byte('0' + nsec%10)
		nsec /= 10
	}
	dst = append(dst, frac[:]...)
	return append(dst, '\n')
}
