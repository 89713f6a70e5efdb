// Package lines replays finalized transcripts from a text stream, one per
// line. A blank line ends the current recognition session; end of input
// exhausts the source.
package lines

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/nadzzz/macaria/internal/recognizer"
)

// Recognizer reads transcripts from a file or stdin.
type Recognizer struct {
	fs    afero.Fs
	path  string
	stdin io.Reader

	once  sync.Once
	items chan string
	err   error
}

// New creates a line recognizer. An empty path or "-" reads stdin.
func New(fs afero.Fs, path string, stdin io.Reader) *Recognizer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if stdin == nil {
		stdin = os.Stdin
	}
	return &Recognizer{fs: fs, path: path, stdin: stdin}
}

// Name returns the source identifier.
func (r *Recognizer) Name() string { return "lines" }

// Listen delivers lines until a blank line, the end of input or ctx ends.
func (r *Recognizer) Listen(ctx context.Context, onFinal func(string)) error {
	r.once.Do(r.open)
	if r.items == nil {
		return r.err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-r.items:
			if !ok {
				if r.err != nil {
					return fmt.Errorf("%w: %v", recognizer.ErrExhausted, r.err)
				}
				return recognizer.ErrExhausted
			}
			if line == "" {
				return nil
			}
			onFinal(line)
		}
	}
}

func (r *Recognizer) open() {
	src := r.stdin
	var closer io.Closer
	if r.path != "" && r.path != "-" {
		f, err := r.fs.Open(r.path)
		if err != nil {
			r.err = fmt.Errorf("opening transcript file %s: %w: %v", r.path, recognizer.ErrUnsupported, err)
			return
		}
		src, closer = f, f
	}

	r.items = make(chan string)
	go r.scan(src, closer)
}

func (r *Recognizer) scan(src io.Reader, closer io.Closer) {
	defer close(r.items)
	if closer != nil {
		defer closer.Close()
	}

	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		r.items <- line
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("transcript stream failed", "path", r.path, "error", err)
		r.err = err
	}
}
