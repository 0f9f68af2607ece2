// Package pipeline parses a line of shell input into a Pipeline: command
// stages connected stdout-to-stdin, optional input and output redirection and
// a background flag.
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/nixpig/stsh/internal/jobmanager"
)

// MaxArguments is the maximum number of argument tokens accepted per command
// stage, not counting the command name.
const MaxArguments = 32

var (
	// ErrSyntax is returned for input that is not a well formed pipeline.
	ErrSyntax = errors.New("syntax error")

	// ErrTooManyArguments is returned when a stage has more than MaxArguments
	// argument tokens.
	ErrTooManyArguments = errors.New("too many arguments")
)

var errBackgroundNotLast = fmt.Errorf("%w: '&' must end the line", ErrSyntax)

// Pipeline is the parsed form of one line of input.
type Pipeline struct {
	Commands   []jobmanager.Command
	Input      string
	Output     string
	Background bool
}

// String returns the pipeline as it could be typed back into the shell.
func (p *Pipeline) String() string {
	parts := make([]string, 0, len(p.Commands))
	for _, c := range p.Commands {
		parts = append(parts, c.String())
	}

	s := strings.Join(parts, " | ")

	if p.Input != "" {
		s += " < " + shellquote.Join(p.Input)
	}

	if p.Output != "" {
		s += " > " + shellquote.Join(p.Output)
	}

	if p.Background {
		s += " &"
	}

	return s
}

// Parse parses line. An empty or blank line parses to a Pipeline with no
// commands.
func Parse(line string) (*Pipeline, error) {
	segments, err := split(line)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{}

	var (
		words    []string
		expect   byte // pending redirection operator
		sawStage bool
	)

	endStage := func() error {
		if len(words) == 0 {
			return fmt.Errorf("%w: empty command", ErrSyntax)
		}

		if len(words)-1 > MaxArguments {
			return fmt.Errorf(
				"%w: %s has %d arguments, maximum is %d",
				ErrTooManyArguments,
				words[0],
				len(words)-1,
				MaxArguments,
			)
		}

		p.Commands = append(p.Commands, jobmanager.Command{
			Name:   words[0],
			Tokens: words[1:],
		})
		words = nil

		return nil
	}

	for _, seg := range segments {
		if seg.op == 0 {
			tokens, err := shellquote.Split(seg.text)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
			}

			if p.Background && len(tokens) > 0 {
				return nil, errBackgroundNotLast
			}

			if expect != 0 {
				if len(tokens) == 0 {
					return nil, fmt.Errorf("%w: missing file for '%c'", ErrSyntax, expect)
				}

				if expect == '<' {
					p.Input = tokens[0]
				} else {
					p.Output = tokens[0]
				}

				tokens = tokens[1:]
				expect = 0
			}

			words = append(words, tokens...)

			continue
		}

		if expect != 0 {
			return nil, fmt.Errorf("%w: missing file for '%c'", ErrSyntax, expect)
		}

		if p.Background {
			return nil, errBackgroundNotLast
		}

		switch seg.op {
		case '|':
			if err := endStage(); err != nil {
				return nil, err
			}
			sawStage = true

		case '<', '>':
			if (seg.op == '<' && p.Input != "") || (seg.op == '>' && p.Output != "") {
				return nil, fmt.Errorf("%w: duplicate '%c'", ErrSyntax, seg.op)
			}
			expect = seg.op

		case '&':
			p.Background = true
		}
	}

	if expect != 0 {
		return nil, fmt.Errorf("%w: missing file for '%c'", ErrSyntax, expect)
	}

	if len(words) == 0 && !sawStage {
		if p.Background || p.Input != "" || p.Output != "" {
			return nil, fmt.Errorf("%w: empty command", ErrSyntax)
		}

		return p, nil
	}

	if err := endStage(); err != nil {
		return nil, err
	}

	return p, nil
}

type segment struct {
	text string
	op   byte
}

// split cuts line at the operators | < > & that are not quoted or escaped.
// Text between operators is left for shellquote to tokenize.
func split(line string) ([]segment, error) {
	var (
		segments []segment
		start    int
		quote    byte
		escaped  bool
	)

	for i := 0; i < len(line); i++ {
		c := line[i]

		switch {
		case escaped:
			escaped = false

		case c == '\\' && quote != '\'':
			escaped = true

		case quote != 0:
			if c == quote {
				quote = 0
			}

		case c == '\'' || c == '"':
			quote = c

		case c == '|' || c == '<' || c == '>' || c == '&':
			segments = append(segments, segment{text: line[start:i]}, segment{op: c})
			start = i + 1
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("%w: unterminated quote", ErrSyntax)
	}

	return append(segments, segment{text: line[start:]}), nil
}
