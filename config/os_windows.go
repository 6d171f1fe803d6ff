//go:build windows

package config

import (
	"os"
	"strings"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
	"golang.org/x/term"
)

// CleanFileName strips characters NTFS and the Windows shell refuse in file
// names.
func CleanFileName(in string) string {
	const reserved = `<>":/\|?*`
	out := strings.Map(func(r rune) rune {
		if r == 0 || r == os.PathSeparator || r == os.PathListSeparator ||
			strings.ContainsRune(reserved, r) {
			return -1
		}
		return r
	}, in)
	if out == "" {
		return "_bad_file_name_"
	}
	return out
}

// EnableColorOutput reports whether the stream is an interactive console and
// switches it to VT100 sequence processing. Consoles before Windows 10 have
// no VT100 support, color stays off there.
func EnableColorOutput(stream *os.File) bool {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, `SOFTWARE\Microsoft\Windows NT\CurrentVersion`, registry.QUERY_VALUE)
	if err != nil {
		return false
	}
	defer k.Close()

	if v, _, err := k.GetIntegerValue("CurrentMajorVersionNumber"); err != nil || v < 10 {
		return false
	}
	if !term.IsTerminal(int(stream.Fd())) {
		return false
	}

	const enableVTProcessing uint32 = 0x4
	var mode uint32
	if err := windows.GetConsoleMode(windows.Handle(stream.Fd()), &mode); err != nil {
		return false
	}
	if err := windows.SetConsoleMode(windows.Handle(stream.Fd()), mode|enableVTProcessing); err != nil {
		return false
	}
	return true
}
