//go:build !windows

package config

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// CleanFileName strips path separators from a would-be file name and drops
// leading dots, so stored book output never escapes its directory or turns
// into a hidden file.
func CleanFileName(in string) string {
	out := strings.Map(func(r rune) rune {
		switch r {
		case os.PathSeparator, os.PathListSeparator:
			return -1
		}
		return r
	}, in)
	out = strings.TrimLeft(out, ".")
	if out == "" {
		return "_bad_file_name_"
	}
	return out
}

// EnableColorOutput reports whether the stream is an interactive terminal.
func EnableColorOutput(stream *os.File) bool {
	return term.IsTerminal(int(stream.Fd()))
}
