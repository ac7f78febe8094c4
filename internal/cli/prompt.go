package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// prompter asks questions on w and reads answers from r.
type prompter struct {
	r *bufio.Reader
	w io.Writer
}

func newPrompter(r io.Reader, w io.Writer) *prompter {
	return &prompter{r: bufio.NewReader(r), w: w}
}

// String asks for a value; an empty answer (or EOF) returns def.
func (p *prompter) String(label, def string) string {
	if def != "" {
		fmt.Fprintf(p.w, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.w, "%s: ", label)
	}
	input, _ := p.r.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}

// Int asks for a number within [lo, hi], re-asking on invalid input.
func (p *prompter) Int(label string, def, lo, hi int) int {
	for {
		input := p.String(label, strconv.Itoa(def))
		v, err := strconv.Atoi(input)
		if err == nil && v >= lo && v <= hi {
			return v
		}
		fmt.Fprintf(p.w, "  Error: enter a number between %d and %d\n", lo, hi)
		if _, err := p.r.Peek(1); err != nil {
			return def
		}
	}
}

// Choice asks for one of options, re-asking on invalid input.
func (p *prompter) Choice(label, def string, options []string) string {
	for {
		input := p.String(fmt.Sprintf("%s (%s)", label, strings.Join(options, ", ")), def)
		for _, o := range options {
			if strings.EqualFold(input, o) {
				return o
			}
		}
		fmt.Fprintln(p.w, "Invalid choice, please try again.")
		if _, err := p.r.Peek(1); err != nil {
			return def
		}
	}
}

// YesNo asks a y/N question.
func (p *prompter) YesNo(label string, def bool) bool {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	fmt.Fprintf(p.w, "%s [%s]: ", label, hint)
	input, _ := p.r.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	default:
		return def
	}
}
