package linefile

import (
	"bytes"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/textseq/lineio/dstring"
)

// NextFull fetches the next logical line, joining up any lines continued by
// a trailing backslash. Comment lines can't be continued: "# comment \"
// followed by "more" is two lines. A continuation line's leading whitespace
// is dropped when joining. When a join happened, raw holds the verbatim
// unjoined lines separated by newlines; otherwise raw is nil. Both returned
// slices are only valid until the next NextFull call.
func (lf *LineFile) NextFull() (full []byte, raw []byte, err error) {
	if lf.fullLineReuse {
		lf.fullLineReuse = false
		return lf.fullLine.Bytes(), lf.rawOrNil(), nil
	}

	if lf.fullLine == nil {
		lf.fullLine = dstring.New(1024)
		lf.rawLines = dstring.New(1024)
	} else {
		lf.fullLine.Clear()
		lf.rawLines.Clear()
	}

	for {
		line, err := lf.Next()
		if err != nil {
			return nil, nil, err
		}

		start := leadingSpaceEnd(line)
		joinEnd := len(line)
		continued := false

		// A comment line is returned as-is even if it ends in a backslash
		if start == len(line) || line[start] != '#' {
			if marker := continuationMarker(line, start); marker >= 0 {
				continued = true
				joinEnd = marker
				lf.rawLines.Append(line)
				lf.rawLines.AppendByte('\n')
			}
		}

		if lf.fullLine.Len() == 0 {
			// First line keeps its leading whitespace
			lf.fullLine.Append(line[:joinEnd])
		} else if start < joinEnd {
			lf.fullLine.Append(line[start:joinEnd])
		}

		if continued {
			continue
		}

		if lf.rawLines.Len() > 0 {
			// The raw collection ends with the line that had no marker
			lf.rawLines.Append(line)
		}
		return lf.fullLine.Bytes(), lf.rawOrNil(), nil
	}
}

func (lf *LineFile) rawOrNil() []byte {
	if lf.rawLines == nil || lf.rawLines.Len() == 0 {
		return nil
	}
	return lf.rawLines.Bytes()
}

// leadingSpaceEnd returns the index of the first non-whitespace byte, or
// len(line) for an all-whitespace line.
func leadingSpaceEnd(line []byte) int {
	for i, c := range line {
		if !isSpace(c) {
			return i
		}
	}
	return len(line)
}

// continuationMarker returns the index of an unescaped trailing backslash
// continuation marker, or -1. "\\" is an escaped literal backslash, not a
// marker, and whitespace is allowed between the marker and end of line.
func continuationMarker(line []byte, from int) int {
	i := from
	for i < len(line) {
		if line[i] != '\\' {
			i++
			continue
		}
		if i+1 < len(line) && line[i+1] == '\\' {
			i += 2
			continue
		}
		j := i + 1
		for j < len(line) && isSpace(line[j]) {
			j++
		}
		if j == len(line) {
			return i
		}
		i = j
	}
	return -1
}

// ReuseFull pushes the last logical line back so the next NextFull returns
// it again. Panics when there is no logical line to replay, or when one is
// already pending.
func (lf *LineFile) ReuseFull() {
	if lf.fullLine == nil {
		panic("linefile: ReuseFull before any NextFull")
	}
	if lf.fullLineReuse {
		panic("linefile: ReuseFull called twice without an intervening read")
	}
	lf.fullLineReuse = true
}

// NextReal fetches the next line that is not blank and does not start with
// '#' (leading whitespace ignored for both checks).
func (lf *LineFile) NextReal() ([]byte, error) {
	for {
		line, err := lf.Next()
		if err != nil {
			return nil, err
		}
		start := leadingSpaceEnd(line)
		if start < len(line) && line[start] != '#' {
			return line, nil
		}
	}
}

// ReadAll returns the remainder of the stream as one string, original line
// terminators preserved.
func (lf *LineFile) ReadAll() (string, error) {
	collected := dstring.New(4 * 1024)
	for {
		line, nlBytes, err := lf.nextMeasured()
		if err == io.EOF {
			return string(collected.Cannibalize()), nil
		}
		if err != nil {
			return "", err
		}
		collected.Append(line)
		switch {
		case nlBytes == 2:
			collected.AppendString("\r\n")
		case nlBytes == 1 && lf.nl == nlMac:
			collected.AppendByte('\r')
		case nlBytes == 1:
			collected.AppendByte('\n')
		}
	}
}

// SkipInitialTrackLines consumes any leading genome-browser "browser" and
// "track" declaration lines, leaving the reader positioned on the first line
// of actual data.
func (lf *LineFile) SkipInitialTrackLines() error {
	for {
		line, err := lf.NextReal()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if !bytes.HasPrefix(line, []byte("browser")) && !bytes.HasPrefix(line, []byte("track")) {
			lf.Reuse()
			return nil
		}
		log.Debugf("%s: skipping declaration line: %s", lf.name, line)
	}
}
