// Package logging builds the process logger shared by the CLI and the web server.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"

	"github.com/kozaktomas/facelookup/internal/config"
)

// New returns a logr.Logger writing to stderr and, when cfg.File is set, to a
// daily-rotated file as well. The returned closer releases the file handle.
func New(cfg config.LogConfig) (logr.Logger, io.Closer, error) {
	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		rl, err := newRotatingFile(cfg)
		if err != nil {
			return logr.Discard(), nil, err
		}
		out = io.MultiWriter(os.Stderr, rl)
		closer = rl
	}

	stdr.SetVerbosity(cfg.Verbosity)
	logger := stdr.NewWithOptions(log.New(out, "", log.LstdFlags), stdr.Options{LogCaller: stdr.Error})
	return logger.WithName("facelookup"), closer, nil
}

func newRotatingFile(cfg config.LogConfig) (*rotatelogs.RotateLogs, error) {
	maxAge := time.Duration(cfg.MaxAgeDays) * 24 * time.Hour
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	rl, err := rotatelogs.New(
		cfg.File,
		rotatelogs.WithMaxAge(maxAge),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rotating log file %s: %w", cfg.File, err)
	}
	return rl, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
