// Package input reads command lines for the shell. Lines are read by a
// background goroutine, one at a time and only when requested, so the shell
// can keep servicing signals while it waits at the prompt.
package input

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
)

// maxLineSize bounds a single command line.
const maxLineSize = 64 * 1024

// ErrLineTooLong is delivered in place of a line longer than maxLineSize.
// The rest of the line is discarded and reading continues.
var ErrLineTooLong = errors.New("line too long")

// Line is one line of input, without its line terminator, or the error that
// prevented it from being read.
type Line struct {
	Text string
	Err  error
}

// Reader delivers lines from a source on request.
type Reader struct {
	requests chan struct{}
	lines    chan Line
	done     chan struct{}

	mu  sync.Mutex
	err error
}

// NewReader creates a Reader and starts reading from source in the
// background. Nothing is read until Request is called.
func NewReader(source io.Reader) *Reader {
	r := &Reader{
		requests: make(chan struct{}, 1),
		lines:    make(chan Line),
		done:     make(chan struct{}),
	}

	go r.processInput(source)

	return r
}

func (r *Reader) processInput(source io.Reader) {
	defer func() {
		close(r.lines)
		close(r.done)
	}()

	br := bufio.NewReaderSize(source, 4096)

	for range r.requests {
		text, err := readLine(br)

		if errors.Is(err, ErrLineTooLong) {
			r.lines <- Line{Err: err}
			continue
		}

		if text != "" || err == nil {
			r.lines <- Line{Text: text}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.mu.Lock()
				r.err = err
				r.mu.Unlock()
			}

			return
		}
	}
}

// Request asks for the next line. Exactly one line, or the close of Lines,
// follows each Request. Requests after the source is exhausted are no-ops.
func (r *Reader) Request() {
	select {
	case r.requests <- struct{}{}:
	case <-r.done:
	}
}

// Lines returns the channel lines are delivered on. It is closed when the
// source is exhausted or cannot be read.
func (r *Reader) Lines() <-chan Line {
	return r.lines
}

// Done returns a channel that is closed when reading has finished.
func (r *Reader) Done() <-chan struct{} {
	return r.done
}

// Err returns the read error that ended the Reader, if it was not io.EOF.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}

// readLine reads up to the next line terminator. A line longer than
// maxLineSize is consumed in full and reported as ErrLineTooLong.
func readLine(br *bufio.Reader) (string, error) {
	var (
		sb      strings.Builder
		tooLong bool
	)

	for {
		chunk, isPrefix, err := br.ReadLine()

		if !tooLong {
			sb.Write(chunk)

			if sb.Len() > maxLineSize {
				tooLong = true
				sb.Reset()
			}
		}

		if tooLong && (err != nil || !isPrefix) {
			return "", ErrLineTooLong
		}

		if err != nil {
			return sb.String(), err
		}

		if !isPrefix {
			return sb.String(), nil
		}
	}
}
