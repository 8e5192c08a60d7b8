package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// PromptFunc asks the user for one value. Secret values are not echoed when
// the input is a terminal.
type PromptFunc func(label string, secret bool) (string, error)

func TerminalPrompt(in *os.File, out io.Writer) PromptFunc {
	reader := bufio.NewReader(in)
	return func(label string, secret bool) (string, error) {
		_, _ = fmt.Fprintf(out, "%s: ", label)
		fd := int(in.Fd())
		if secret && term.IsTerminal(fd) {
			raw, err := term.ReadPassword(fd)
			_, _ = fmt.Fprintln(out)
			if err != nil {
				return "", fmt.Errorf("read %s: %w", label, err)
			}
			return string(raw), nil
		}
		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return "", fmt.Errorf("read %s: %w", label, err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
}
