package linefile

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/textseq/lineio/dstring"
)

var httpPrefix = []byte("HTTP/")

// HTTPHeader is a parsed HTTP response header.
type HTTPHeader struct {
	// Text is the accumulated header block, newline separated, as far as
	// parsing got.
	Text string

	// Chunked is set when a Transfer-Encoding: chunked header was seen.
	Chunked bool

	// ContentLength is the Content-Length header value, or -1 when unknown.
	ContentLength int
}

// ParseHTTPHeader extracts one HTTP response header from the reader. The
// status line must say 200; any other status (and any malformed header) is
// reported with ok false and whatever header text was gathered preserved for
// the caller to log, since error responses are an expected part of life and
// the caller gets to decide what to do about them. No redirect or retry
// logic lives here. A first line that isn't an HTTP status line is pushed
// back. A non-nil err means the transport itself failed.
func (lf *LineFile) ParseHTTPHeader() (hdr *HTTPHeader, ok bool, err error) {
	header := dstring.New(1024)
	hdr = &HTTPHeader{ContentLength: -1}

	line, err := lf.Next()
	if err == io.EOF {
		return hdr, false, nil
	}
	if err != nil {
		return hdr, false, err
	}

	if !bytes.HasPrefix(line, httpPrefix) {
		// Not an HTTP response at all; leave the line for the caller
		lf.Reuse()
		log.Warnf("%s: expecting HTTP/<version> <code> header line, got this: %s", lf.name, line)
		return hdr, false, nil
	}

	header.Append(line)
	header.AppendByte('\n')

	rest := string(line)
	version := NextWord(&rest)
	code := NextWord(&rest)
	if code == "" {
		log.Warnf("%s: expecting HTTP/<version> <code> header line, got this: %s", lf.name, line)
		hdr.Text = string(header.Cannibalize())
		return hdr, false, nil
	}
	if code != "200" {
		log.Warnf("%s: errored HTTP response header: %s %s %s", lf.name, version, code, rest)
		hdr.Text = string(header.Cannibalize())
		return hdr, false, nil
	}

	for {
		line, err = lf.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return hdr, false, err
		}
		if isBlankHTTPLine(line) {
			// Blank line ends the header block
			break
		}
		if strings.Contains(string(line), "Transfer-Encoding: chunked") {
			hdr.Chunked = true
		}
		header.Append(line)
		header.AppendByte('\n')
		if strings.Contains(string(line), "Content-Length:") {
			rest = string(line)
			NextWord(&rest) // the header name
			value := NextWord(&rest)
			length, convErr := strconv.Atoi(value)
			if convErr != nil {
				log.Warnf("%s: unparsable Content-Length %q", lf.name, value)
			} else {
				hdr.ContentLength = length
			}
		}
	}

	hdr.Text = string(header.Cannibalize())
	return hdr, true, nil
}

// isBlankHTTPLine recognizes the empty separator line in both its shapes: a
// fully stripped "" when the stream committed to dos endings, or a lone CR
// when it committed to unix ones.
func isBlankHTTPLine(line []byte) bool {
	return len(line) == 0 || (len(line) == 1 && line[0] == '\r')
}

// SlurpHTTPBody reads the HTTP response body that follows a parsed header.
// Three mutually exclusive framings: chunked transfer encoding, a known
// content length, or read-to-end-of-stream. The body text is reassembled
// with a newline after each constituent line. ok goes false on framing
// trouble (bad chunk size line, missing separator) with the partial body
// preserved; err reports transport failure.
func (lf *LineFile) SlurpHTTPBody(chunked bool, contentLength int) (body *dstring.DyString, ok bool, err error) {
	body = dstring.New(64 * 1024)
	ok = true

	switch {
	case chunked:
		ok, err = lf.slurpChunked(body)
	case contentLength >= 0:
		// Read lines until the declared length has been consumed
		size := 0
		for size < contentLength {
			line, nlBytes, nextErr := lf.nextMeasured()
			if nextErr == io.EOF {
				break
			}
			if nextErr != nil {
				return body, false, nextErr
			}
			body.Append(line)
			body.AppendByte('\n')
			size += len(line) + nlBytes
		}
	default:
		// No framing: assume a non-persistent connection and read it all
		for {
			line, nextErr := lf.Next()
			if nextErr == io.EOF {
				break
			}
			if nextErr != nil {
				return body, false, nextErr
			}
			body.Append(line)
			body.AppendByte('\n')
		}
	}

	return body, ok, err
}

// slurpChunked decodes a chunked transfer encoded body per RFC 2068 section
// 19.4.6: hex chunk-size lines, chunk content, a zero chunk to finish.
func (lf *LineFile) slurpChunked(body *dstring.DyString) (ok bool, err error) {
	for {
		// Chunk size is the first word of its own line, in hex
		line, err := lf.Next()
		if err == io.EOF {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		rest := string(line)
		sizeWord := NextWord(&rest)
		chunkSize, convErr := strconv.ParseUint(sizeWord, 16, 31)
		if convErr != nil {
			log.Warnf("%s: chunked transfer-encoding chunk size parse error", lf.name)
			return false, nil
		}

		if chunkSize == 0 {
			// Terminal chunk; a blank line follows it
			line, err = lf.Next()
			if err != nil && err != io.EOF {
				return false, err
			}
			if err == io.EOF || !isBlankHTTPLine(line) {
				log.Warnf("%s: chunked transfer-encoding: expected blank line, got %s", lf.name, line)
			}
			break
		}

		// Read (and save) lines until the chunk has been consumed
		size := 0
		for size < int(chunkSize) {
			line, nlBytes, nextErr := lf.nextMeasured()
			if nextErr == io.EOF {
				break
			}
			if nextErr != nil {
				return false, nextErr
			}
			body.Append(line)
			body.AppendByte('\n')
			size += len(line) + nlBytes
		}

		if size > int(chunkSize) {
			// The chunk's trailing CRLF got consumed as part of the last
			// content line; drop the newline we appended in its place.
			body.Truncate(body.Len() - 1)
		} else if size == int(chunkSize) {
			// The separator is its own line
			line, err = lf.Next()
			if err != nil && err != io.EOF {
				return false, err
			}
			if err == io.EOF || !isBlankHTTPLine(line) {
				log.Warnf("%s: chunked transfer-encoding: expected blank line, got %s", lf.name, line)
			}
		}
	}

	// Whatever follows the terminal chunk is either the next HTTP response
	// (put it back for the caller) or a trailer block, which we log and
	// discard without validating. Tightening that up would change which
	// responses get accepted, so the leniency is deliberate.
	line, peekErr := lf.Next()
	if peekErr == io.EOF {
		return true, nil
	}
	if peekErr != nil {
		return false, peekErr
	}
	if bytes.HasPrefix(line, httpPrefix) {
		lf.Reuse()
		return true, nil
	}
	log.Warnf("%s: chunked transfer-encoding: got trailer %s, discarding it", lf.name, line)
	for {
		line, peekErr = lf.Next()
		if peekErr == io.EOF {
			return true, nil
		}
		if peekErr != nil {
			return false, peekErr
		}
		if isBlankHTTPLine(line) {
			return true, nil
		}
		log.Warnf("discarding trailer line: %s", line)
	}
}
