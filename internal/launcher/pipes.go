package launcher

import (
	"fmt"
	"os"
)

// pipe is one inter-stage pipe. An end is set to nil once the parent has
// closed it.
type pipe struct {
	r *os.File
	w *os.File
}

// pipes holds the N-1 pipes of an N stage pipeline. os.Pipe opens both ends
// close-on-exec, so a child only keeps the ends passed as its stdin and
// stdout.
type pipes []pipe

func newPipes(n int) (pipes, error) {
	ps := make(pipes, 0, n)

	for range n {
		r, w, err := os.Pipe()
		if err != nil {
			ps.closeAll()
			return nil, fmt.Errorf("%w: create pipe: %w", ErrLaunch, err)
		}

		ps = append(ps, pipe{r: r, w: w})
	}

	return ps, nil
}

func (ps pipes) closeRead(i int) {
	if i < 0 || i >= len(ps) || ps[i].r == nil {
		return
	}

	ps[i].r.Close()
	ps[i].r = nil
}

func (ps pipes) closeWrite(i int) {
	if i < 0 || i >= len(ps) || ps[i].w == nil {
		return
	}

	ps[i].w.Close()
	ps[i].w = nil
}

func (ps pipes) closeAll() {
	for i := range ps {
		ps.closeRead(i)
		ps.closeWrite(i)
	}
}

// open returns the number of pipe ends the parent still holds.
func (ps pipes) open() int {
	n := 0
	for _, p := range ps {
		if p.r != nil {
			n++
		}
		if p.w != nil {
			n++
		}
	}

	return n
}
