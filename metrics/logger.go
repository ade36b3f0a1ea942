package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type Logger interface {
	Log(info *StepInfo)
}

type StdoutLogger struct{}

func NewStdoutLogger() *StdoutLogger {
	return &StdoutLogger{}
}

func (l *StdoutLogger) Log(info *StepInfo) {
	infoStr, err := info.ToJSON()
	if err == nil {
		log.WithField("metrics", true).Info(strings.TrimSpace(infoStr))
	} else {
		log.Errorf("StdoutLogger: error: %v", err)
	}
}

const defaultQueueSize = 200
const defaultMaxLogFileSize = 64 * 1024 * 1024
const defaultMaxLogFiles = 10

// FileLogger appends JSON lines to LogDir/metrics.jsonl, rotating the file
// to metrics.jsonl.N once it reaches MaxLogFileSize.
type FileLogger struct {
	MetricsQueue   chan *StepInfo
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int
	Verbose        bool
	wg             sync.WaitGroup
}

func NewFileLogger(logDir string, maxLogFileSize int64, maxLogFiles int, verbose bool) (*FileLogger, error) {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}
	logger := &FileLogger{
		MetricsQueue:   make(chan *StepInfo, defaultQueueSize),
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		Verbose:        verbose,
	}

	logger.wg.Add(1)
	go logger.startLogWriter()
	return logger, nil
}

func (l *FileLogger) Log(info *StepInfo) {
	l.MetricsQueue <- info
}

// Close drains the queue and waits for the writer to finish.
func (l *FileLogger) Close() {
	close(l.MetricsQueue)
	l.wg.Wait()
}

func (l *FileLogger) logFilePath() string {
	return filepath.Join(l.LogDir, "metrics.jsonl")
}

func (l *FileLogger) startLogWriter() {
	defer l.wg.Done()

	f, err := l.openLogFile()
	if err != nil {
		log.Errorf("FileLogger: log open error: %v", err)
	}

	for info := range l.MetricsQueue {
		infoStr, err := info.ToJSON()
		if err != nil {
			log.Errorf("FileLogger: info.ToJSON() error: %v", err)
			continue
		}

		f, err = l.tryRotateLogFile(f)
		if err != nil {
			continue
		}
		if _, err := f.WriteString(infoStr); err != nil {
			log.Errorf("FileLogger: write error: %v", err)
			continue
		}
		f.Sync()
	}

	if f != nil {
		f.Close()
	}
}

func (l *FileLogger) openLogFile() (*os.File, error) {
	return os.OpenFile(l.logFilePath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func (l *FileLogger) tryRotateLogFile(currFile *os.File) (*os.File, error) {
	if currFile == nil {
		return l.openLogFile()
	}

	info, err := currFile.Stat()
	if err != nil {
		log.Errorf("FileLogger: log rotation error: %v", err)
		return currFile, nil
	}
	if info.Size() < l.MaxLogFileSize {
		return currFile, nil
	}

	var rotatedLogFilePath string
	for i := 0; i < l.MaxLogFiles; i++ {
		filePath := fmt.Sprintf("%s.%d", l.logFilePath(), i)
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			rotatedLogFilePath = filePath
			break
		}
	}

	if len(rotatedLogFilePath) == 0 {
		rotatedLogFilePath = l.oldestRotated()
		if l.Verbose {
			log.Infof("FileLogger: maximum number of log files reached, overwriting %s", rotatedLogFilePath)
		}
		if err := os.Remove(rotatedLogFilePath); err != nil {
			log.Errorf("FileLogger: log rotation error: %v", err)
			return currFile, nil
		}
	}

	currFile.Close()
	if err := os.Rename(l.logFilePath(), rotatedLogFilePath); err != nil {
		log.Errorf("FileLogger: log rotation error: %v", err)
	} else if l.Verbose {
		log.Infof("FileLogger: log file rotated: %v", rotatedLogFilePath)
	}

	f, err := l.openLogFile()
	if err != nil {
		log.Errorf("FileLogger: log rotation error: %v", err)
	}
	return f, err
}

func (l *FileLogger) oldestRotated() string {
	oldest := fmt.Sprintf("%s.%d", l.logFilePath(), 0)
	oldestTime := time.Now()
	for i := 0; i < l.MaxLogFiles; i++ {
		filePath := fmt.Sprintf("%s.%d", l.logFilePath(), i)
		info, err := os.Stat(filePath)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if info.ModTime().Before(oldestTime) {
			oldest = filePath
			oldestTime = info.ModTime()
		}
	}
	return oldest
}
