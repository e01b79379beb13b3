package linefile

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"

	"github.com/textseq/lineio/pipeline"
)

var (
	gzipMagic     = []byte{0x1f, 0x8b}
	compressMagic = []byte{0x1f, 0x9d, 0x90}
	bzip2Magic    = []byte("BZ")
	zipMagic      = []byte("PK\x03\x04")
	zstdMagic     = []byte{0x28, 0xb5, 0x2f, 0xfd}
	xzMagic       = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}
)

var (
	gzRead   = []string{"gzip", "-dc"}
	bz2Read  = []string{"bzip2", "-dc"}
	xzRead   = []string{"xz", "-dc"}
	zstdRead = []string{"zstd", "-dc"}
)

// decompressorFor returns the command that decompresses name, going by its
// suffix, or nil if the suffix isn't a known compressed format. URL names
// get percent-decoded first so that "file.gz%3Ftoken" style names still
// route correctly.
func decompressorFor(name string) []string {
	decoded := name
	if isURL(name) {
		if unescaped, err := url.QueryUnescape(name); err == nil {
			decoded = unescaped
		}
	}

	switch {
	case strings.HasSuffix(decoded, ".gz"):
		return gzRead
	case strings.HasSuffix(decoded, ".Z"):
		return gzRead
	case strings.HasSuffix(decoded, ".bz2"):
		return bz2Read
	case strings.HasSuffix(decoded, ".zip"):
		return gzRead
	}
	return nil
}

func decompressorForExt(ext string) []string {
	switch ext {
	case "bz2":
		return bz2Read
	case "xz":
		return xzRead
	case "zst":
		return zstdRead
	default:
		// gz, Z and zip all go through gzip
		return gzRead
	}
}

// extFromSignature checks whether header starts with a known compression
// signature, and returns the matching file extension or "".
func extFromSignature(header []byte) string {
	switch {
	case bytes.HasPrefix(header, gzipMagic):
		return "gz"
	case bytes.HasPrefix(header, compressMagic):
		return "Z"
	case bytes.HasPrefix(header, bzip2Magic):
		return "bz2"
	case bytes.HasPrefix(header, zipMagic):
		return "zip"
	case bytes.HasPrefix(header, zstdMagic):
		return "zst"
	case bytes.HasPrefix(header, xzMagic):
		return "xz"
	}
	return ""
}

// headerBytes returns the first numBytes bytes of the file. Shorter files
// yield an error; the signatures we sniff for are all 2-6 bytes.
func headerBytes(name string, numBytes int) ([]byte, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, numBytes)
	_, err = io.ReadFull(f, header)
	if err != nil {
		return nil, err
	}
	return header, nil
}

// DecompressFile opens a line file with decompression, picking the format by
// the file's leading signature bytes rather than its name. Errors out if the
// contents don't match any known signature.
func DecompressFile(name string) (*LineFile, error) {
	header, err := headerBytes(name, len(xzMagic))
	if err != nil {
		return nil, fmt.Errorf("couldn't sniff %s: %w", name, err)
	}
	ext := extFromSignature(header)
	if ext == "" {
		return nil, fmt.Errorf("%s has no recognized compression signature", name)
	}
	return openDecompressed(name, decompressorForExt(ext))
}

// DecompressFd opens a line file with decompression from an already-open
// file or socket, picking the decompressor from the name's suffix.
func DecompressFd(name string, f *os.File) (*LineFile, error) {
	args := decompressorFor(name)
	if args == nil {
		return nil, fmt.Errorf("don't know how to decompress %s", name)
	}
	pl, err := pipeline.Open(args, f)
	if err != nil {
		return nil, err
	}
	return &LineFile{
		name: name,
		kind: backendPipeline,
		pl:   pl,
		buf:  make([]byte, initialBufSize),
	}, nil
}

// openDecompressed routes name through the external decompressor program,
// falling back to in-process decoding when the program isn't installed.
func openDecompressed(name string, args []string) (*LineFile, error) {
	if _, err := exec.LookPath(args[0]); err == nil {
		pl, err := pipeline.OpenFile(args, name)
		if err != nil {
			return nil, err
		}
		return &LineFile{
			name: name,
			kind: backendPipeline,
			pl:   pl,
			buf:  make([]byte, initialBufSize),
		}, nil
	}

	log.Debugf("%s not installed, decompressing %s in process", args[0], name)

	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("couldn't open %s: %w", name, err)
	}
	stream, err := zReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &LineFile{
		name:   name,
		kind:   backendStream,
		stream: stream,
		buf:    make([]byte, initialBufSize),
	}, nil
}

// multiReadCloser closes every attached closer when Close() is called.
type multiReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiReadCloser) Close() error {
	var err error
	for _, c := range m.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// zReader wraps f in an in-process decompressor chosen by the stream's
// leading signature bytes.
func zReader(f *os.File) (io.ReadCloser, error) {
	header := make([]byte, len(xzMagic))
	_, err := io.ReadFull(f, header)
	if err != nil {
		return nil, fmt.Errorf("failed to read compression header: %w", err)
	}

	// Put the sniffed bytes back in front of the stream
	input := io.MultiReader(bytes.NewReader(header), f)

	switch extFromSignature(header) {
	case "gz":
		gzReader, err := gzip.NewReader(input)
		if err != nil {
			return nil, err
		}
		return &multiReadCloser{Reader: gzReader, closers: []io.Closer{gzReader, f}}, nil
	case "bz2":
		return &multiReadCloser{Reader: bzip2.NewReader(input), closers: []io.Closer{f}}, nil
	case "zst":
		decoder, err := zstd.NewReader(input)
		if err != nil {
			return nil, err
		}
		decoderCloser := decoder.IOReadCloser()
		return &multiReadCloser{Reader: decoderCloser, closers: []io.Closer{decoderCloser, f}}, nil
	case "xz":
		xzReader, err := xz.NewReader(input)
		if err != nil {
			return nil, err
		}
		return &multiReadCloser{Reader: xzReader, closers: []io.Closer{f}}, nil
	case "Z", "zip":
		return nil, fmt.Errorf("no in-process decoder for this format, install gzip")
	}
	return nil, fmt.Errorf("unrecognized compression signature")
}
