package main

import (
	"os"

	"github.com/vinyl-linux/crate/cmd"
	"go.uber.org/zap"
)

var (
	logger *zap.Logger
	sugar  *zap.SugaredLogger
)

func init() {
	var err error

	if logger == nil {
		logger, err = zap.NewProduction()
		if err != nil {
			panic(err)
		}
	}

	sugar = logger.Sugar()
}

func main() {
	defer logger.Sync() //#nosec: G104

	err := cmd.Execute(sugar)
	if err != nil {
		os.Exit(1)
	}
}
