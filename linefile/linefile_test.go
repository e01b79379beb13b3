package linefile

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

// collect drains lf and returns every line as a string.
func collect(t *testing.T, lf *LineFile) []string {
	t.Helper()
	var lines []string
	for {
		line, err := lf.Next()
		if err == io.EOF {
			return lines
		}
		assert.NilError(t, err)
		lines = append(lines, string(line))
	}
}

func TestNextUnix(t *testing.T) {
	lf := OnString("test", "one\ntwo\nthree\n")
	assert.DeepEqual(t, collect(t, lf), []string{"one", "two", "three"})
}

func TestNextDos(t *testing.T) {
	lf := OnString("test", "one\r\ntwo\r\nthree\r\n")
	assert.DeepEqual(t, collect(t, lf), []string{"one", "two", "three"})
}

func TestNextMac(t *testing.T) {
	lf := OnString("test", "one\rtwo\rthree\r")
	assert.DeepEqual(t, collect(t, lf), []string{"one", "two", "three"})
}

// The same content must come back identically whatever the terminator
// convention of the source was.
func TestNextConventionsAgree(t *testing.T) {
	expected := collect(t, OnString("unix", "alpha\nbeta\n\ngamma\n"))
	assert.DeepEqual(t, collect(t, OnString("dos", "alpha\r\nbeta\r\n\r\ngamma\r\n")), expected)
	assert.DeepEqual(t, collect(t, OnString("mac", "alpha\rbeta\r\rgamma\r")), expected)
}

func TestNextNoFinalTerminator(t *testing.T) {
	lf := OnString("test", "one\ntwo")
	assert.DeepEqual(t, collect(t, lf), []string{"one", "two"})

	// The fabricated final line must only come once
	_, err := lf.Next()
	assert.Equal(t, err, io.EOF)
}

func TestNextEmptySource(t *testing.T) {
	lf := OnString("test", "")
	_, err := lf.Next()
	assert.Equal(t, err, io.EOF)
}

func TestNextEmptyLines(t *testing.T) {
	lf := OnString("test", "\n\nx\n\n")
	assert.DeepEqual(t, collect(t, lf), []string{"", "", "x", ""})
}

func TestLineIx(t *testing.T) {
	lf := OnString("test", "one\ntwo\n")
	assert.Equal(t, lf.LineIx(), 0)

	_, err := lf.Next()
	assert.NilError(t, err)
	assert.Equal(t, lf.LineIx(), 1)

	_, err = lf.Next()
	assert.NilError(t, err)
	assert.Equal(t, lf.LineIx(), 2)
}

func TestTell(t *testing.T) {
	lf := OnString("test", "aa\nbbb\ncc\n")

	_, err := lf.Next()
	assert.NilError(t, err)
	assert.Equal(t, lf.Tell(), int64(0))

	_, err = lf.Next()
	assert.NilError(t, err)
	assert.Equal(t, lf.Tell(), int64(3))

	_, err = lf.Next()
	assert.NilError(t, err)
	assert.Equal(t, lf.Tell(), int64(7))
}

func TestReuse(t *testing.T) {
	lf := OnString("test", "one\ntwo\n")

	line, err := lf.Next()
	assert.NilError(t, err)
	assert.Equal(t, string(line), "one")

	lf.Reuse()

	line, err = lf.Next()
	assert.NilError(t, err)
	assert.Equal(t, string(line), "one")

	line, err = lf.Next()
	assert.NilError(t, err)
	assert.Equal(t, string(line), "two")
}

func TestReuseTwicePanics(t *testing.T) {
	lf := OnString("test", "one\n")
	_, err := lf.Next()
	assert.NilError(t, err)
	lf.Reuse()

	defer func() {
		assert.Assert(t, recover() != nil)
	}()
	lf.Reuse()
}

func TestAttachFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lines.txt")
	assert.NilError(t, os.WriteFile(path, []byte("one\ntwo\n"), 0o600))

	f, err := os.Open(path)
	assert.NilError(t, err)

	lf := Attach(path, f)
	assert.Equal(t, lf.Name(), path)
	assert.DeepEqual(t, collect(t, lf), []string{"one", "two"})
	assert.NilError(t, lf.Close())
}

func TestOpenPlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.txt")
	assert.NilError(t, os.WriteFile(path, []byte("hello\nworld\n"), 0o600))

	lf, err := Open(path)
	assert.NilError(t, err)
	defer func() { assert.NilError(t, lf.Close()) }()

	assert.DeepEqual(t, collect(t, lf), []string{"hello", "world"})
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "no-such-file"))
	assert.Assert(t, err != nil)
	assert.Assert(t, strings.Contains(err.Error(), "no-such-file"))
}

func TestSeekBackToStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seek.txt")
	assert.NilError(t, os.WriteFile(path, []byte("first\nsecond\nthird\n"), 0o600))

	lf, err := Open(path)
	assert.NilError(t, err)
	defer lf.Close()

	line, err := lf.Next()
	assert.NilError(t, err)
	assert.Equal(t, string(line), "first")

	_, err = lf.Next()
	assert.NilError(t, err)

	assert.NilError(t, lf.Seek(0, io.SeekStart))

	line, err = lf.Next()
	assert.NilError(t, err)
	assert.Equal(t, string(line), "first")
}

func TestSeekToOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seek.txt")
	assert.NilError(t, os.WriteFile(path, []byte("first\nsecond\n"), 0o600))

	lf, err := Open(path)
	assert.NilError(t, err)
	defer lf.Close()

	// Jump straight to the second line
	assert.NilError(t, lf.Seek(6, io.SeekStart))

	line, err := lf.Next()
	assert.NilError(t, err)
	assert.Equal(t, string(line), "second")
	assert.Equal(t, lf.Tell(), int64(6))
}

func TestSeekUnsupportedBackends(t *testing.T) {
	lf := OnString("test", "one\n")
	err := lf.Seek(0, io.SeekStart)
	assert.Assert(t, err != nil)
	assert.Assert(t, strings.Contains(err.Error(), "in-memory"))

	lf = OnLines("test", &sliceLines{lines: []string{"one"}})
	err = lf.Seek(0, io.SeekStart)
	assert.Assert(t, err != nil)
	assert.Assert(t, strings.Contains(err.Error(), "line-delegating"))
}

func TestLongLineGrowsBuffer(t *testing.T) {
	long := strings.Repeat("x", initialBufSize*2+17)
	path := filepath.Join(t.TempDir(), "long.txt")
	assert.NilError(t, os.WriteFile(path, []byte(long+"\nshort\n"), 0o600))

	lf, err := Open(path)
	assert.NilError(t, err)
	defer lf.Close()

	line, err := lf.Next()
	assert.NilError(t, err)
	assert.Equal(t, string(line), long)

	line, err = lf.Next()
	assert.NilError(t, err)
	assert.Equal(t, string(line), "short")
}

func TestCloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	assert.NilError(t, os.WriteFile(path, []byte("x\n"), 0o600))

	lf, err := Open(path)
	assert.NilError(t, err)
	assert.NilError(t, lf.Close())
	assert.NilError(t, lf.Close())
}

// sliceLines is a canned whole-line producer.
type sliceLines struct {
	lines  []string
	closed bool
}

func (s *sliceLines) ReadLine() (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *sliceLines) Close() error {
	s.closed = true
	return nil
}

func TestOnLines(t *testing.T) {
	src := &sliceLines{lines: []string{"one", "two"}}
	lf := OnLines("archive", src)

	assert.DeepEqual(t, collect(t, lf), []string{"one", "two"})
	assert.Equal(t, lf.LineIx(), 2)

	assert.NilError(t, lf.Close())
	assert.Assert(t, src.closed)
}

func TestOnLinesReuse(t *testing.T) {
	lf := OnLines("archive", &sliceLines{lines: []string{"one", "two"}})

	line, err := lf.Next()
	assert.NilError(t, err)
	assert.Equal(t, string(line), "one")

	lf.Reuse()

	assert.DeepEqual(t, collect(t, lf), []string{"one", "two"})
}

func TestMetaOutput(t *testing.T) {
	lf := OnString("test", "#header\ndata\n#header\n#other\n")

	var all, unique bytes.Buffer
	lf.AddMetaOutput(&all, false)
	lf.AddMetaOutput(&unique, true)

	assert.DeepEqual(t, collect(t, lf),
		[]string{"#header", "data", "#header", "#other"})

	assert.Equal(t, all.String(), "#header\n#header\n#other\n")
	assert.Equal(t, unique.String(), "#header\n#other\n")
}

func TestMetaOutputSeesReusedLines(t *testing.T) {
	lf := OnString("test", "#note\n")

	var sink bytes.Buffer
	lf.AddMetaOutput(&sink, false)

	_, err := lf.Next()
	assert.NilError(t, err)
	lf.Reuse()
	_, err = lf.Next()
	assert.NilError(t, err)

	assert.Equal(t, sink.String(), "#note\n#note\n")
}

func TestNextReal(t *testing.T) {
	lf := OnString("test", "# comment\n\n   \n  data\n")

	line, err := lf.NextReal()
	assert.NilError(t, err)
	assert.Equal(t, string(line), "  data")

	_, err = lf.NextReal()
	assert.Equal(t, err, io.EOF)
}

func TestReadAllPreservesTerminators(t *testing.T) {
	for _, contents := range []string{
		"one\ntwo\n",
		"one\r\ntwo\r\n",
		"one\rtwo\r",
		"one\ntwo", // no final terminator
		"",
	} {
		lf := OnString("test", contents)
		text, err := lf.ReadAll()
		assert.NilError(t, err)
		assert.Equal(t, text, contents)
	}
}

func TestReadAllAfterNext(t *testing.T) {
	lf := OnString("test", "one\ntwo\nthree\n")
	_, err := lf.Next()
	assert.NilError(t, err)

	text, err := lf.ReadAll()
	assert.NilError(t, err)
	assert.Equal(t, text, "two\nthree\n")
}

func TestSkipInitialTrackLines(t *testing.T) {
	lf := OnString("test",
		"browser position chr7:127471196-127495720\n"+
			"track name=pairedReads\n"+
			"chr7\t127471196\t127472363\n")

	assert.NilError(t, lf.SkipInitialTrackLines())

	line, err := lf.Next()
	assert.NilError(t, err)
	assert.Equal(t, string(line), "chr7\t127471196\t127472363")
}

func TestSkipInitialTrackLinesPlainData(t *testing.T) {
	lf := OnString("test", "chr1\t100\t200\n")
	assert.NilError(t, lf.SkipInitialTrackLines())

	line, err := lf.Next()
	assert.NilError(t, err)
	assert.Equal(t, string(line), "chr1\t100\t200")
}

func TestExpectWords(t *testing.T) {
	lf := OnString("rows.txt", "a b c\n")
	_, err := lf.Next()
	assert.NilError(t, err)

	assert.NilError(t, lf.ExpectWords(3, 3))

	err = lf.ExpectWords(4, 3)
	assert.Assert(t, err != nil)
	assert.Equal(t, err.Error(), "line 1 of rows.txt: expecting 4 words got 3")

	assert.NilError(t, lf.ExpectAtLeast(2, 3))
	assert.Assert(t, lf.ExpectAtLeast(4, 3) != nil)
}
