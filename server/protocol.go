package server

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"
	"unicode"
)

// MaxRequestLine is the longest request line accepted, newline included.
const MaxRequestLine = 1024

var (
	// ErrBadRequest reports a request line that is not "GET /<path>".
	ErrBadRequest = errors.New("server: bad request")
	// ErrRequestTooLong reports a request line over MaxRequestLine bytes.
	ErrRequestTooLong = errors.New("server: request line too long")
)

var (
	respBadRequest    = []byte("HTTP/1.1 400 Bad Request\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
	respNotFound      = []byte("HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
	respInternalError = []byte("HTTP/1.1 500 Internal Server Error\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
)

// readRequest reads the request line from r and parses it. A client that
// sends the line and then half-closes without a newline is accepted.
func readRequest(r io.Reader) (string, error) {
	br := bufio.NewReaderSize(r, MaxRequestLine)
	line, err := br.ReadSlice('\n')
	switch {
	case err == nil:
	case errors.Is(err, bufio.ErrBufferFull):
		return "", ErrRequestTooLong
	case errors.Is(err, io.EOF) && len(line) > 0:
	default:
		return "", err
	}
	return ParseRequest(line)
}

// ParseRequest extracts the path from a request line of the form
// "GET /<path>[ <anything>]". The returned path has no leading slash and
// ends at the first whitespace. An empty path is a bad request.
func ParseRequest(line []byte) (string, error) {
	if len(line) > MaxRequestLine {
		return "", ErrRequestTooLong
	}
	rest, ok := bytes.CutPrefix(line, []byte("GET /"))
	if !ok {
		return "", ErrBadRequest
	}
	end := bytes.IndexFunc(rest, unicode.IsSpace)
	if end < 0 {
		end = len(rest)
	}
	if end == 0 {
		return "", ErrBadRequest
	}
	return string(rest[:end]), nil
}

// writeAll writes b to w, retrying partial writes. A write that makes no
// progress and reports no error ends the loop with io.ErrShortWrite.
func writeAll(w io.Writer, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := w.Write(b[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

// appendOKHeader appends the status line and headers of a 200 response.
func appendOKHeader(dst []byte, now time.Time, length int, ctype string) []byte {
	dst = append(dst, "HTTP/1.1 200 OK\r\nDate: "...)
	dst = now.UTC().AppendFormat(dst, http.TimeFormat)
	dst = append(dst, "\r\nContent-Length: "...)
	dst = strconv.AppendInt(dst, int64(length), 10)
	dst = append(dst, "\r\nConnection: close\r\nContent-Type: "...)
	dst = append(dst, ctype...)
	return append(dst, "\r\n\r\n"...)
}

// contentType guesses the MIME type from the file extension, falling back
// to text/html.
func contentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "text/html"
}
