package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sugar = zap.NewNop().Sugar()

// rootCmd represents the base command when called without any
// subcommands
var rootCmd = &cobra.Command{
	Use:   "crate",
	Short: "build native macOS installer packages",
	Long: `crate builds native macOS installer packages from a declarative description
of files to install, symlinks to create, permissions to set, and optional
pre/post-install scripts.

It orchestrates the platform tools (pkgbuild, productbuild, productsign)
rather than reimplementing them; anything those tools reject, crate
surfaces verbatim.`,
}

// Execute dispatches to whichever sub-command was invoked, logging
// through l
func Execute(l *zap.SugaredLogger) error {
	if l != nil {
		sugar = l
	}

	return rootCmd.Execute()
}

func errWrap(msg string, err error) error {
	if err != nil {
		err = fmt.Errorf("%s: %w", msg, err)
	}

	return err
}
