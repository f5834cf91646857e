package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/vinyl-linux/crate/installer"
)

var prefixColour = color.New(color.FgCyan, color.Bold)

// echoer returns an installer.EchoFunc writing colour prefixed
// progress lines to w; quiet discards everything
func echoer(w io.Writer, quiet bool) installer.EchoFunc {
	if quiet {
		return func(string, ...interface{}) {}
	}

	prefix := prefixColour.Sprint("crate")

	return func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)

		for _, line := range strings.Split(msg, "\n") {
			fmt.Fprintf(w, "%s\t%s\n", prefix, line)
		}
	}
}
