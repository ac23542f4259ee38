//go:build !windows

package tui

import (
	"os"
	"os/exec"
)

// restoreTerminal puts the terminal back into a sane line mode after the
// watch view exits. bubbletea restores state itself on a clean quit; this
// covers the paths where it cannot, such as a panic mid-refresh.
func restoreTerminal() {
	fi, err := os.Stdin.Stat()
	if err != nil || (fi.Mode()&os.ModeCharDevice) == 0 {
		// Not attached to a terminal, nothing to restore.
		return
	}

	// Address the controlling TTY directly; stdin may be redirected.
	_ = exec.Command("sh", "-lc", "stty sane < /dev/tty >/dev/null 2>&1 || true").Run()
}
