// Package logging builds the process loggers. Each long-running
// component gets a prefixed log.Logger; when a log path is configured
// the output goes through a size-rotated file, otherwise to stderr.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a logger that tags every line with the given prefix.
// With an empty path it writes to stderr; otherwise it writes to a
// rotating log file at path.
func New(prefix, path string) *log.Logger {
	var out io.Writer = os.Stderr
	if path != "" {
		out = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     30, // days
		}
	}
	return log.New(out, "["+prefix+"] ", log.LstdFlags)
}
