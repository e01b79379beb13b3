// Package udc is a URL data cache: read-only random access over a remote
// http(s) file, with fetched byte ranges kept in sparse local files so the
// next run doesn't hit the network for data it has already seen.
//
// The cache root holds one directory per URL, e.g.
//
//	rootDir/https/ftp.example.org/pub/some%2Dfile.txt/
//
// and each such directory contains two files: "bitmap", recording the remote
// size and which blocks have been fetched, and "sparseData", holding the
// fetched blocks at their natural offsets. Blocks are 8 KiB. There is never a
// local write-through: the remote file is assumed immutable for the lifetime
// of the cache entry.
package udc

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// BlockSize is the granularity of fetching and of cache bookkeeping.
const BlockSize = 8 * 1024

var bitmapMagic = [4]byte{'u', 'd', 'c', 'b'}

var (
	defaultDirLock sync.Mutex
	defaultDir     string
)

// DefaultDir returns the cache root used when Open gets an empty cacheDir.
func DefaultDir() string {
	defaultDirLock.Lock()
	defer defaultDirLock.Unlock()

	if defaultDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			defaultDir = filepath.Join(os.TempDir(), "udcCache")
		} else {
			defaultDir = filepath.Join(home, ".udcCache")
		}
	}
	return defaultDir
}

// SetDefaultDir overrides the cache root used when Open gets an empty
// cacheDir.
func SetDefaultDir(path string) {
	defaultDirLock.Lock()
	defer defaultDirLock.Unlock()
	defaultDir = path
}

// File is one cached remote file. Not safe for concurrent use.
type File struct {
	url    string
	size   int64
	offset int64

	bitmap     []byte // one bit per block, 1 = fetched
	bitmapPath string
	sparse     *os.File

	client *http.Client
}

// Open sets up cached access to url. cacheDir may be empty, in which case
// DefaultDir() is used. Only http and https URLs are supported.
func Open(rawURL string, cacheDir string) (*File, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("udc: bad URL %s: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("udc: unsupported protocol %q in %s", parsed.Scheme, rawURL)
	}

	if cacheDir == "" {
		cacheDir = DefaultDir()
	}
	entryDir := filepath.Join(cacheDir, parsed.Scheme, parsed.Host, encodePath(parsed))
	err = os.MkdirAll(entryDir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("udc: can't create cache dir: %w", err)
	}

	file := &File{
		url:        rawURL,
		bitmapPath: filepath.Join(entryDir, "bitmap"),
		client:     http.DefaultClient,
	}

	file.size, err = remoteSize(file.client, rawURL)
	if err != nil {
		return nil, err
	}

	blockCount := int((file.size + BlockSize - 1) / BlockSize)
	err = file.loadOrCreateBitmap(blockCount)
	if err != nil {
		return nil, err
	}

	file.sparse, err = os.OpenFile(filepath.Join(entryDir, "sparseData"), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("udc: can't open sparse data file: %w", err)
	}

	log.Debugf("udc: %s cached in %s, %d bytes", rawURL, entryDir, file.size)
	return file, nil
}

// encodePath turns the path+query part of a URL into a single safe directory
// name component per path level.
func encodePath(parsed *url.URL) string {
	raw := parsed.Path
	if parsed.RawQuery != "" {
		raw += "?" + parsed.RawQuery
	}
	parts := strings.Split(strings.TrimPrefix(raw, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return filepath.Join(parts...)
}

func remoteSize(client *http.Client, rawURL string) (int64, error) {
	resp, err := client.Head(rawURL)
	if err != nil {
		return 0, fmt.Errorf("udc: HEAD %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("udc: HEAD %s: %s", rawURL, resp.Status)
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("udc: %s: server did not report a size", rawURL)
	}
	return resp.ContentLength, nil
}

// loadOrCreateBitmap reads the bitmap file if it matches the remote size,
// otherwise starts a fresh one. A size mismatch means the remote file changed
// and the cached blocks can't be trusted.
func (f *File) loadOrCreateBitmap(blockCount int) error {
	bitmapBytes := (blockCount + 7) / 8

	contents, err := os.ReadFile(f.bitmapPath)
	if err == nil && len(contents) == 12+bitmapBytes && [4]byte(contents[:4]) == bitmapMagic {
		cachedSize := int64(binary.BigEndian.Uint64(contents[4:12]))
		if cachedSize == f.size {
			f.bitmap = contents[12:]
			return nil
		}
		log.Warnf("udc: %s changed size (%d -> %d), dropping cached data", f.url, cachedSize, f.size)
	}

	f.bitmap = make([]byte, bitmapBytes)
	return f.saveBitmap()
}

func (f *File) saveBitmap() error {
	contents := make([]byte, 0, 12+len(f.bitmap))
	contents = append(contents, bitmapMagic[:]...)
	contents = binary.BigEndian.AppendUint64(contents, uint64(f.size))
	contents = append(contents, f.bitmap...)
	err := os.WriteFile(f.bitmapPath, contents, 0o644)
	if err != nil {
		return fmt.Errorf("udc: can't save bitmap: %w", err)
	}
	return nil
}

func (f *File) haveBlock(block int) bool {
	return f.bitmap[block/8]&(1<<uint(block%8)) != 0
}

func (f *File) setBlock(block int) {
	f.bitmap[block/8] |= 1 << uint(block%8)
}

// ensureRange makes sure bytes [start, end) are present in the sparse file,
// fetching any missing blocks. Contiguous missing runs are fetched with one
// request each.
func (f *File) ensureRange(start, end int64) error {
	if end > f.size {
		end = f.size
	}
	if start >= end {
		return nil
	}

	firstBlock := int(start / BlockSize)
	lastBlock := int((end - 1) / BlockSize)

	fetched := false
	for block := firstBlock; block <= lastBlock; block++ {
		if f.haveBlock(block) {
			continue
		}
		runEnd := block
		for runEnd < lastBlock && !f.haveBlock(runEnd+1) {
			runEnd++
		}
		err := f.fetchBlocks(block, runEnd)
		if err != nil {
			return err
		}
		for b := block; b <= runEnd; b++ {
			f.setBlock(b)
		}
		fetched = true
		block = runEnd
	}

	if fetched {
		return f.saveBitmap()
	}
	return nil
}

func (f *File) fetchBlocks(firstBlock, lastBlock int) error {
	start := int64(firstBlock) * BlockSize
	end := int64(lastBlock+1) * BlockSize
	if end > f.size {
		end = f.size
	}

	req, err := http.NewRequest(http.MethodGet, f.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))

	log.Debugf("udc: fetching %s bytes %d-%d", f.url, start, end-1)
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("udc: GET %s: %w", f.url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		// What we asked for
	case http.StatusOK:
		// Server ignored the Range header and is sending the whole file.
		// Usable only when we wanted the start of it.
		if start != 0 {
			return fmt.Errorf("udc: %s: server ignored Range request", f.url)
		}
	default:
		return fmt.Errorf("udc: GET %s: %s", f.url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, end-start))
	if err != nil {
		return fmt.Errorf("udc: reading %s: %w", f.url, err)
	}
	if int64(len(body)) != end-start {
		return fmt.Errorf("udc: %s: got %d bytes, wanted %d", f.url, len(body), end-start)
	}

	_, err = f.sparse.WriteAt(body, start)
	if err != nil {
		return fmt.Errorf("udc: writing cache: %w", err)
	}
	return nil
}

// readAt reads into p from the given absolute offset, going through the
// cache. Short reads only happen at end of file.
func (f *File) readAt(p []byte, off int64) (int, error) {
	if off >= f.size {
		return 0, io.EOF
	}
	if int64(len(p)) > f.size-off {
		p = p[:f.size-off]
	}

	err := f.ensureRange(off, off+int64(len(p)))
	if err != nil {
		return 0, err
	}
	return f.sparse.ReadAt(p, off)
}

// Read implements io.Reader at the current position.
func (f *File) Read(p []byte) (int, error) {
	n, err := f.readAt(p, f.offset)
	f.offset += int64(n)
	return n, err
}

// Seek implements io.Seeker. Seeking beyond either end is an error.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = f.offset + offset
	case io.SeekEnd:
		target = f.size + offset
	default:
		return 0, fmt.Errorf("udc: bad seek whence %d", whence)
	}
	if target < 0 || target > f.size {
		return 0, fmt.Errorf("udc: seek to %d outside of %s (%d bytes)", target, f.url, f.size)
	}
	f.offset = target
	return target, nil
}

// Tell returns the current position.
func (f *File) Tell() int64 {
	return f.offset
}

// Size returns the remote file's size in bytes.
func (f *File) Size() int64 {
	return f.size
}

// ReadLine returns the next line with its terminator stripped (both CR and LF
// for CRLF files). The final line is returned even without a terminator.
// Returns io.EOF when the file is exhausted.
func (f *File) ReadLine() (string, error) {
	if f.offset >= f.size {
		return "", io.EOF
	}

	var line []byte
	chunk := make([]byte, 512)
	pos := f.offset
	for {
		n, err := f.readAt(chunk, pos)
		if n > 0 {
			for i := 0; i < n; i++ {
				if chunk[i] == '\n' {
					line = append(line, chunk[:i]...)
					f.offset = pos + int64(i) + 1
					if len(line) > 0 && line[len(line)-1] == '\r' {
						line = line[:len(line)-1]
					}
					return string(line), nil
				}
			}
			line = append(line, chunk[:n]...)
			pos += int64(n)
		}
		if err == io.EOF {
			// Last line has no terminator, hand it over anyway
			f.offset = pos
			return string(line), nil
		}
		if err != nil {
			return "", err
		}
	}
}

// Close releases the local cache files. The cached blocks stay on disk for
// the next Open of the same URL.
func (f *File) Close() error {
	if f.sparse == nil {
		return nil
	}
	err := f.sparse.Close()
	f.sparse = nil
	return err
}
