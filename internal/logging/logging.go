package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup routes the default logger through a size-rotated file while
// keeping stderr output for interactive runs. An empty path leaves the
// logger on stderr only.
func Setup(path string) {
	if path == "" {
		return
	}

	rotated := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotated))
}
