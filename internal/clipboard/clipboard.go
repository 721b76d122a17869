// Package clipboard copies text to the system clipboard, best effort.
package clipboard

import (
	"os/exec"
	"runtime"
	"strings"
)

// Copy pipes text into the platform clipboard tool. Returns false when
// no tool is available or the copy failed; callers treat that as a
// warning, never an error.
func Copy(text string) bool {
	switch runtime.GOOS {
	case "darwin":
		return pipe(text, "pbcopy")
	case "windows":
		return pipe(text, "clip")
	default:
		for _, tool := range []string{"xclip", "xsel"} {
			if _, err := exec.LookPath(tool); err != nil {
				continue
			}
			if tool == "xclip" {
				return pipe(text, "xclip", "-selection", "clipboard")
			}
			return pipe(text, "xsel", "--clipboard", "--input")
		}
		return false
	}
}

func pipe(text string, name string, args ...string) bool {
	cmd := exec.Command(name, args...)
	cmd.Stdin = strings.NewReader(text)
	return cmd.Run() == nil
}
