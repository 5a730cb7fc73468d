package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// terminalColorEnv returns extra environment assignments so a forwarded
// child inherits this terminal's background/foreground palette instead of
// guessing its own: a single COLORFGBG hint. Returns nil when stdout isn't
// a real TTY or COLORFGBG is already set.
func terminalColorEnv() []string {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return nil
	}
	if os.Getenv("COLORFGBG") != "" {
		return nil
	}

	output := termenv.NewOutput(os.Stdout)
	fg, bg := "15", "0"
	if !output.HasDarkBackground() {
		fg, bg = "0", "15"
	}
	return []string{fmt.Sprintf("COLORFGBG=%s;%s", fg, bg)}
}
