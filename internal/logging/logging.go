// Package logging builds the structured loggers used by both the
// Controller and the Agent.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/ssh/terminal"
)

// Setup builds a *zap.Logger for one of the Samwise binaries. Output is
// a human-readable colorized console when stderr is a terminal or
// debug is true; otherwise a production JSON encoding with ISO8601
// timestamps. The logger is named after the running executable.
func Setup(debug bool) (*zap.Logger, error) {
	isTerm := terminal.IsTerminal(int(os.Stderr.Fd()))

	var config zap.Config
	if debug || isTerm {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	log, err := config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	pname, err := os.Executable()
	if err != nil {
		pname = os.Args[0]
	}
	return log.Named(filepath.Base(pname)), nil
}
