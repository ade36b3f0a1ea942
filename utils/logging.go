package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// SetupLogging sends the standard logrus logger to stderr and to
// {logsDir}/{name}.log, truncating any previous log of that step. The
// returned function restores stderr-only output and closes the file.
func SetupLogging(logsDir, name string, debug bool) (func(), error) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, DisableColors: true})
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}
	logPath := filepath.Join(logsDir, name+".log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	log.SetOutput(io.MultiWriter(os.Stderr, f))
	log.Debugf("Logs are redirected to %s", logPath)

	return func() {
		log.SetOutput(os.Stderr)
		f.Close()
	}, nil
}
