// Package linefile reads heterogeneous byte sources - plain files, stdin,
// subprocess-decompressed pipes, cache-backed remote URLs, in-memory strings
// and whole-line producers - as a uniform stream of text lines.
//
// The reader is pull-based and single-threaded: every call either returns a
// line or blocks on the underlying transport. One instance is never safe for
// concurrent use.
package linefile

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/textseq/lineio/dstring"
	"github.com/textseq/lineio/pipeline"
	"github.com/textseq/lineio/udc"
)

const (
	initialBufSize = 64 * 1024

	// A line longer than this is an error, not a reason to eat all RAM
	maxBufSize = 512 * 1024 * 1024
)

// backendKind says what is supplying our bytes (or lines). Exactly one
// backend backs any given LineFile.
type backendKind int

const (
	backendFile     backendKind = iota // plain file or stdin, seekable
	backendString                      // in-memory, no refill ever
	backendPipeline                    // decompression subprocess
	backendStream                      // in-process decompressed stream
	backendRemote                      // cache-backed remote file
	backendLines                       // delegating whole-line producer
)

// nlType is the file-wide line terminator convention. Once determined it
// never changes; offset arithmetic depends on it staying put.
type nlType int

const (
	nlUndet nlType = iota
	nlUnix         // \n
	nlDos          // \r\n
	nlMac          // \r
)

// LineSource produces whole decoded lines, for backends that bypass byte
// buffering entirely - typically a region iterator over an indexed compressed
// archive. If the source also implements io.Closer it gets closed with the
// LineFile.
type LineSource interface {
	// ReadLine returns the next line without its terminator, or io.EOF when
	// there are no more lines.
	ReadLine() (string, error)
}

// LineFile reads one source of text line by line.
type LineFile struct {
	name string
	kind backendKind

	file   *os.File
	pl     *pipeline.Pipeline
	stream io.ReadCloser
	remote *udc.File
	lines  LineSource

	buf             []byte
	bytesInBuf      int   // valid bytes in buf
	bufOffsetInFile int64 // file offset of buf[0]
	lineIx          int   // 1-based index of the last returned line
	lineStart       int   // current line's start in buf
	lineEnd         int   // one past the current line's last byte in buf
	nl              nlType
	reuse           bool

	meta     []metaSink
	metaSeen map[string]bool

	fullLine      *dstring.DyString
	rawLines      *dstring.DyString
	fullLineReuse bool
}

// Attach wraps a line file around an already-opened file. The name is only
// used for diagnostics.
func Attach(name string, f *os.File) *LineFile {
	return &LineFile{
		name: name,
		kind: backendFile,
		file: f,
		buf:  make([]byte, initialBufSize),
	}
}

// Stdin wraps a line file around standard input.
func Stdin() *LineFile {
	return Attach("stdin", os.Stdin)
}

// OnString wraps a line file around a string in memory.
func OnString(name string, s string) *LineFile {
	buf := []byte(s)
	return &LineFile{
		name:       name,
		kind:       backendString,
		buf:        buf,
		bytesInBuf: len(buf),
	}
}

// OnLines wraps a line file around a whole-line producer. Byte level
// operations (Seek, Tell) are not available on such a reader.
func OnLines(name string, src LineSource) *LineFile {
	return &LineFile{
		name:  name,
		kind:  backendLines,
		lines: src,
	}
}

// Open opens name for line-at-a-time reading. "stdin" and "-" mean standard
// input. An http or https URL is read through the local URL data cache. A
// name ending in .gz, .Z, .bz2 or .zip - or a file leading with a known
// compression signature - is routed through the matching decompressor.
func Open(name string) (*LineFile, error) {
	if name == "stdin" || name == "-" {
		return Stdin(), nil
	}

	if isURL(name) {
		remote, err := udc.Open(name, "")
		if err != nil {
			return nil, err
		}
		return &LineFile{name: name, kind: backendRemote, remote: remote}, nil
	}

	if args := decompressorFor(name); args != nil {
		return openDecompressed(name, args)
	}

	// The suffix didn't give it away, but the contents still might
	if header, err := headerBytes(name, len(xzMagic)); err == nil {
		if ext := extFromSignature(header); ext != "" {
			return openDecompressed(name, decompressorForExt(ext))
		}
	}

	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("couldn't open %s: %w", name, err)
	}
	return Attach(name, f), nil
}

// MustOpen is Open for callers with no error handling story beyond giving up.
func MustOpen(name string) *LineFile {
	lf, err := Open(name)
	if err != nil {
		log.Fatal(err)
	}
	return lf
}

func isURL(name string) bool {
	return strings.HasPrefix(name, "http://") ||
		strings.HasPrefix(name, "https://") ||
		strings.HasPrefix(name, "ftp://")
}

// Name returns the source name given at open time.
func (lf *LineFile) Name() string {
	return lf.name
}

// LineIx returns the 1-based index of the most recently returned line, 0
// before the first read. Note that Seek does not rewind it.
func (lf *LineFile) LineIx() int {
	return lf.lineIx
}

// Tell returns the byte offset in the underlying stream of the current
// line's first byte.
func (lf *LineFile) Tell() int64 {
	return lf.bufOffsetInFile + int64(lf.lineStart)
}

// Reuse pushes the just-returned line back so that the next Next returns it
// again. Calling Reuse twice without an intervening read is a caller bug and
// panics.
func (lf *LineFile) Reuse() {
	if lf.reuse {
		panic("linefile: Reuse called twice without an intervening read")
	}
	lf.reuse = true
}

// Seek repositions the stream so the next line is read from the given
// offset. Only plain-file and remote-cached sources can seek; sequential or
// line-delegating backends fail loudly since silently ignoring the request
// would corrupt positional assumptions. The line index keeps counting
// forward, it is not rewound.
func (lf *LineFile) Seek(offset int64, whence int) error {
	switch lf.kind {
	case backendPipeline, backendStream:
		return lf.errorf("can't seek in a compressed stream")
	case backendString:
		return lf.errorf("can't seek in an in-memory string")
	case backendLines:
		return lf.errorf("can't seek in a line-delegating source")
	}

	lf.reuse = false
	lf.lineStart, lf.lineEnd, lf.bytesInBuf = 0, 0, 0

	if lf.kind == backendRemote {
		_, err := lf.remote.Seek(offset, whence)
		return err
	}

	pos, err := lf.file.Seek(offset, whence)
	if err != nil {
		return lf.errorf("seek failed: %v", err)
	}
	lf.bufOffsetInFile = pos
	return nil
}

// Next fetches the next line. The returned slice has its terminator stripped
// (both CR and LF for dos files) and is only valid until the next call on
// this reader. Returns io.EOF when there are no more lines.
func (lf *LineFile) Next() ([]byte, error) {
	line, _, err := lf.nextMeasured()
	return line, err
}

// nextMeasured is Next plus the count of terminator bytes consumed, which
// the HTTP chunked decoder needs for its byte accounting.
func (lf *LineFile) nextMeasured() (line []byte, nlBytes int, err error) {
	raw, err := lf.nextRaw()
	if err != nil {
		return nil, 0, err
	}
	line = lf.stripTerminator(raw)
	if len(line) > 0 && line[0] == '#' {
		lf.metaDataAdd(line)
	}
	return line, len(raw) - len(line), nil
}

// nextRaw returns the next line span including its terminator bytes (the
// final line of a terminator-less file has none).
func (lf *LineFile) nextRaw() ([]byte, error) {
	if lf.reuse {
		lf.reuse = false
		return lf.buf[lf.lineStart:lf.lineEnd], nil
	}

	switch lf.kind {
	case backendRemote:
		lf.bufOffsetInFile = lf.remote.Tell()
		line, err := lf.remote.ReadLine()
		if err != nil {
			return nil, lf.wrapReadError(err)
		}
		lf.setDelegatedLine(line)
		return lf.buf[lf.lineStart:lf.lineEnd], nil

	case backendLines:
		line, err := lf.lines.ReadLine()
		if err != nil {
			return nil, lf.wrapReadError(err)
		}
		lf.setDelegatedLine(line)
		return lf.buf[lf.lineStart:lf.lineEnd], nil
	}

	return lf.bufferedNext()
}

// setDelegatedLine stashes a line from a whole-line backend in our buffer so
// that Reuse keeps working.
func (lf *LineFile) setDelegatedLine(line string) {
	if len(line) > len(lf.buf) {
		lf.buf = make([]byte, len(line)*2)
	}
	copy(lf.buf, line)
	lf.bytesInBuf = len(line)
	lf.lineStart = 0
	lf.lineEnd = len(line)
	lf.lineIx++
}

// bufferedNext is the generic scan-compact-refill path for byte-supplying
// backends.
func (lf *LineFile) bufferedNext() ([]byte, error) {
	bytesInBuf := lf.bytesInBuf

	lf.determineNlType(lf.buf[lf.lineEnd:bytesInBuf])
	endIx, gotNl := lf.scanForEnd(lf.lineEnd, bytesInBuf)

	for !gotNl {
		oldEnd := lf.lineEnd
		sizeLeft := bytesInBuf - oldEnd
		readSize := len(lf.buf) - sizeLeft

		// Slide unread bytes down to the start of the buffer
		if oldEnd > 0 && sizeLeft > 0 {
			copy(lf.buf, lf.buf[oldEnd:bytesInBuf])
		}
		lf.bufOffsetInFile += int64(oldEnd)

		n, err := lf.longRead(lf.buf[sizeLeft : sizeLeft+readSize])
		if err != nil {
			return nil, lf.errorf("read failed: %v", err)
		}

		if n == 0 && endIx > oldEnd {
			// Out of input but unread bytes remain: the file has no final
			// terminator. Deliver the remainder as one last line.
			endIx = sizeLeft
			lf.bytesInBuf = endIx
			lf.lineStart = 0
			lf.lineEnd = endIx
			lf.lineIx++
			return lf.buf[:endIx], nil
		}
		if n <= 0 {
			lf.bytesInBuf, lf.lineStart, lf.lineEnd = 0, 0, 0
			return nil, io.EOF
		}

		bytesInBuf = sizeLeft + n
		lf.bytesInBuf = bytesInBuf
		lf.lineEnd = 0

		lf.determineNlType(lf.buf[:bytesInBuf])

		// Only the newly appended region can contain the terminator
		endIx, gotNl = lf.scanForEnd(sizeLeft, bytesInBuf)

		if !gotNl && bytesInBuf == len(lf.buf) {
			if len(lf.buf) >= maxBufSize {
				return nil, fmt.Errorf("line too long (more than %d chars) line %d of %s",
					len(lf.buf), lf.lineIx+1, lf.name)
			}
			lf.expandBuf(len(lf.buf) * 2)
		}
	}

	lf.lineStart = lf.lineEnd
	lf.lineEnd = endIx
	lf.lineIx++
	return lf.buf[lf.lineStart:endIx], nil
}

// determineNlType commits the stream to a line-ending convention based on
// the first bytes seen. The decision is never revisited, even if later lines
// are terminated inconsistently.
func (lf *LineFile) determineNlType(window []byte) {
	if lf.nl != nlUndet || len(window) == 0 {
		return
	}
	lf.nl = nlUnix
	for i, c := range window {
		if c == '\r' {
			lf.nl = nlMac
			if i+1 < len(window) && window[i+1] == '\n' {
				lf.nl = nlDos
			}
			return
		}
		if c == '\n' {
			return
		}
	}
}

// scanForEnd looks for the next line terminator in buf[from:to]. Returns the
// index one past the terminator and whether one was found; with the
// convention still undetermined there is nothing to scan for.
func (lf *LineFile) scanForEnd(from, to int) (int, bool) {
	if lf.nl == nlUndet {
		return from, false
	}
	term := byte('\n')
	if lf.nl == nlMac {
		term = '\r'
	}
	for i := from; i < to; i++ {
		if lf.buf[i] == term {
			return i + 1, true
		}
	}
	return to, false
}

// stripTerminator removes the line ending from a raw line span according to
// the committed convention.
func (lf *LineFile) stripTerminator(raw []byte) []byte {
	if len(raw) == 0 {
		return raw
	}
	if lf.nl == nlMac {
		if raw[len(raw)-1] == '\r' {
			raw = raw[:len(raw)-1]
		}
		return raw
	}
	if raw[len(raw)-1] == '\n' {
		raw = raw[:len(raw)-1]
		if lf.nl == nlDos && len(raw) > 0 && raw[len(raw)-1] == '\r' {
			raw = raw[:len(raw)-1]
		}
	}
	return raw
}

// longRead keeps reading until either the buffer is full or the source has
// nothing more. A single read legitimately returning fewer bytes than asked
// for (sockets, pipes) must not be mistaken for end of stream.
func (lf *LineFile) longRead(p []byte) (int, error) {
	var r io.Reader
	switch lf.kind {
	case backendFile:
		r = lf.file
	case backendPipeline:
		r = lf.pl
	case backendStream:
		r = lf.stream
	default:
		// In-memory strings never refill
		return 0, nil
	}

	total := 0
	for total < len(p) {
		n, err := r.Read(p[total:])
		total += n
		if err == io.EOF || (err == nil && n == 0) {
			break
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (lf *LineFile) expandBuf(newSize int) {
	grown := make([]byte, newSize)
	copy(grown, lf.buf[:lf.bytesInBuf])
	lf.buf = grown
}

// Close releases the reader: the buffer is dropped, any decompression child
// is reaped, remote and delegated handles are closed. Safe to call twice.
func (lf *LineFile) Close() error {
	var err error
	switch lf.kind {
	case backendFile:
		if lf.file != nil && lf.file != os.Stdin {
			err = lf.file.Close()
		}
		lf.file = nil
	case backendPipeline:
		if lf.pl != nil {
			err = lf.pl.Close()
		}
		lf.pl = nil
	case backendStream:
		if lf.stream != nil {
			err = lf.stream.Close()
		}
		lf.stream = nil
	case backendRemote:
		if lf.remote != nil {
			err = lf.remote.Close()
		}
		lf.remote = nil
	case backendLines:
		if closer, ok := lf.lines.(io.Closer); ok && lf.lines != nil {
			err = closer.Close()
		}
		lf.lines = nil
	}
	lf.buf = nil
	lf.bytesInBuf, lf.lineStart, lf.lineEnd = 0, 0, 0
	return err
}

// errorf builds an error that carries the source name and current line
// number; %w works in the format.
func (lf *LineFile) errorf(format string, args ...any) error {
	prefixed := append([]any{lf.lineIx, lf.name}, args...)
	return fmt.Errorf("line %d of %s: "+format, prefixed...)
}

// wrapReadError passes io.EOF through untouched and gives anything else
// source context.
func (lf *LineFile) wrapReadError(err error) error {
	if err == io.EOF {
		return io.EOF
	}
	return lf.errorf("read failed: %v", err)
}

// UnexpectedEnd returns the error for a file that ended where more content
// was required.
func (lf *LineFile) UnexpectedEnd() error {
	return fmt.Errorf("unexpected end of file in %s", lf.name)
}

// ExpectWords checks that a row had exactly the expected number of words.
func (lf *LineFile) ExpectWords(expecting, got int) error {
	if expecting != got {
		return lf.errorf("expecting %d words got %d", expecting, got)
	}
	return nil
}

// ExpectAtLeast checks that a row had at least the expected number of words.
func (lf *LineFile) ExpectAtLeast(expecting, got int) error {
	if got < expecting {
		return lf.errorf("expecting at least %d words got %d", expecting, got)
	}
	return nil
}
