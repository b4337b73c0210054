// Package logging configures the process logger. When a log file is
// set the logger writes through lumberjack so long-lived watch and
// daemonized runs rotate their logs instead of growing without bound.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where log output goes and how files rotate.
type Options struct {
	// FilePath enables file logging when non-empty.
	FilePath string
	// MaxSizeMB is the rotation threshold per file.
	MaxSizeMB int
	// MaxBackups is how many rotated files to keep.
	MaxBackups int
	// MaxAgeDays removes rotated files older than this.
	MaxAgeDays int
	// Quiet drops stderr output, leaving only the file writer.
	Quiet bool
}

var fileWriter *lumberjack.Logger

// Setup points the standard logger at the configured destinations.
// Call once at startup, after config initialization.
func Setup(opts Options) *log.Logger {
	var writers []io.Writer
	if !opts.Quiet {
		writers = append(writers, os.Stderr)
	}
	if opts.FilePath != "" {
		fileWriter = &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    orDefault(opts.MaxSizeMB, 50),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}
		writers = append(writers, fileWriter)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}

	logger := log.New(out, "", log.LstdFlags|log.Lmicroseconds)
	log.SetOutput(out)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return logger
}

// Close flushes and closes the rotating file writer, if any.
func Close() error {
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	return err
}

func orDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
