// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// prompter asks the operator questions on the console.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

// ask prints prompt and returns the trimmed answer line.
func (p *prompter) ask(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	line, err := p.in.ReadString('\n')
	line = strings.TrimSpace(line)
	if err != nil && line == "" {
		return "", err
	}
	return line, nil
}

// confirm returns true only for an explicit yes.
func (p *prompter) confirm(prompt string) (bool, error) {
	answer, err := p.ask(prompt)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// waitEnter blocks until the operator presses Enter.
func (p *prompter) waitEnter(prompt string) {
	fmt.Fprint(p.out, prompt)
	_, _ = p.in.ReadString('\n')
}
