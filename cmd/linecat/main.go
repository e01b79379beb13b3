// linecat reads files, URLs, compressed archives or stdin as lines and
// writes them to stdout, optionally joining backslash-continued lines,
// mirroring comment lines to a sideband file, or unpacking an HTTP response
// stream.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/textseq/lineio/linefile"
)

var (
	joinLines  bool
	metaPath   string
	uniqueMeta bool
	httpMode   bool
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "linecat [files...]",
	Short: "Concatenate line-oriented sources, whatever transport they're behind",
	Long: `Concatenate line-oriented sources to standard output.

Sources can be plain files, "-" or "stdin" for standard input, http(s) URLs
(read through a local byte-range cache), or .gz/.Z/.bz2/.zip files, which get
routed through the matching decompressor.`,
	Args: cobra.ArbitraryArgs,
	RunE: run,
}

func init() {
	rootCmd.Flags().BoolVar(&joinLines, "join", false, "join backslash-continued lines into logical lines")
	rootCmd.Flags().StringVar(&metaPath, "meta", "", "mirror comment lines (starting with '#') to this file")
	rootCmd.Flags().BoolVar(&uniqueMeta, "unique-meta", false, "don't repeat identical comment lines in the --meta file")
	rootCmd.Flags().BoolVar(&httpMode, "http", false, "treat input as an HTTP response and print its body")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "print debug logs")
}

func run(_ *cobra.Command, args []string) error {
	log.SetOutput(os.Stderr)
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.WarnLevel)
	}

	if len(args) == 0 {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("refusing to read from a terminal, give me a file or pipe something in")
		}
		args = []string{"stdin"}
	}

	var meta io.Writer
	if metaPath != "" {
		metaFile, err := os.Create(metaPath)
		if err != nil {
			return err
		}
		defer metaFile.Close()
		buffered := bufio.NewWriter(metaFile)
		defer buffered.Flush()
		meta = buffered
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	for _, name := range args {
		err := catOne(name, meta, out)
		if err != nil {
			return err
		}
	}
	return nil
}

func catOne(name string, meta io.Writer, out *bufio.Writer) error {
	lf, err := linefile.Open(name)
	if err != nil {
		return err
	}
	defer lf.Close()

	if meta != nil {
		lf.AddMetaOutput(meta, uniqueMeta)
	}

	if httpMode {
		return catHTTPBody(lf, out)
	}

	for {
		var line []byte
		if joinLines {
			line, _, err = lf.NextFull()
		} else {
			line, err = lf.Next()
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = out.Write(line)
		if err == nil {
			err = out.WriteByte('\n')
		}
		if err != nil {
			return err
		}
	}
}

func catHTTPBody(lf *linefile.LineFile, out *bufio.Writer) error {
	hdr, ok, err := lf.ParseHTTPHeader()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: not a 200 HTTP response:\n%s", lf.Name(), hdr.Text)
	}

	body, ok, err := lf.SlurpHTTPBody(hdr.Chunked, hdr.ContentLength)
	if err != nil {
		return err
	}
	if !ok {
		log.Warnf("%s: body framing was off, output may be partial", lf.Name())
	}
	_, err = out.Write(body.Bytes())
	return err
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		log.Fatal(err)
	}
}
