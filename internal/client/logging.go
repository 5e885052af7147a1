package client

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxLogMegabytes = 5
	maxLogBackups   = 3
)

// InitLogging tees the standard logger to stderr and a rotated file in the
// app config dir. The returned func closes the file.
func InitLogging() (func(), error) {
	baseDir, err := getAppConfigDir()
	if err != nil {
		return nil, err
	}
	return initLoggingIn(filepath.Join(baseDir, "logs"), os.Stderr)
}

func initLoggingIn(logDir string, console io.Writer) (func(), error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	logPath := filepath.Join(logDir, "client.log")
	file := newLogFile(logPath)

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(io.MultiWriter(file, console))
	log.Printf("[LOG] Writing to %s", logPath)

	return func() {
		log.SetOutput(console)
		if err := file.Close(); err != nil {
			log.Printf("[LOG] Failed to close log file: %v", err)
		}
	}, nil
}

// newLogFile keeps client.log under maxLogMegabytes, with older files kept
// as timestamped backups next to it.
func newLogFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxLogMegabytes,
		MaxBackups: maxLogBackups,
	}
}
