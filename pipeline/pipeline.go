// Package pipeline runs an external filter program and exposes its standard
// output as a readable stream.
//
// The child process is a scoped resource: once Open has succeeded, the only
// way to let go of the stream is Close, which always reaps the child. There is
// no way to leak a process, not even on early-return error paths.
package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// Pipeline is a running filter program read from its stdout.
type Pipeline struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	waited bool
}

// Open spawns args[0] with the given arguments, with stdin connected to input.
// input may be nil for programs that don't read stdin.
func Open(args []string, input *os.File) (*Pipeline, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("pipeline: no command given")
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin = input
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	err = cmd.Start()
	if err != nil {
		return nil, err
	}

	log.Debugf("Started filter pipeline: %v", args)
	return &Pipeline{cmd: cmd, stdout: stdout}, nil
}

// OpenFile spawns args with path appended as the final argument. The program
// is expected to open the file itself, "gzip -dc file.gz" style.
func OpenFile(args []string, path string) (*Pipeline, error) {
	withPath := make([]string, 0, len(args)+1)
	withPath = append(withPath, args...)
	withPath = append(withPath, path)
	return Open(withPath, nil)
}

// Read reads from the child's stdout. Returns io.EOF when the child has
// closed its end.
func (pl *Pipeline) Read(p []byte) (int, error) {
	return pl.stdout.Read(p)
}

// Close reaps the child. A nonzero exit status comes back as an error so that
// a broken decompressor doesn't get mistaken for a short file.
func (pl *Pipeline) Close() error {
	if pl.waited {
		return nil
	}
	pl.waited = true

	// Closing stdout makes a still-running child get EPIPE rather than
	// blocking forever on a reader that has gone away.
	_ = pl.stdout.Close()

	err := pl.cmd.Wait()
	if err != nil {
		if diedFromBrokenPipe(err) {
			// If we stop reading mid-stream that's our decision, not a
			// failure of the child.
			log.Debugf("Filter %s exited on SIGPIPE after reader went away", pl.cmd.Path)
			return nil
		}
		return fmt.Errorf("pipeline %s: %w", pl.cmd.Path, err)
	}
	return nil
}

func diedFromBrokenPipe(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return false
	}
	return status.Signaled() && status.Signal() == syscall.SIGPIPE
}

// String returns the command line, for diagnostics.
func (pl *Pipeline) String() string {
	return pl.cmd.String()
}
