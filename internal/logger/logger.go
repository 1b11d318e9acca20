package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"mosquitoserver/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log file names, one per level.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (info/warning/error) to rotating files and stdout/stderr.
type Logger struct {
	infoLog    *logrus.Logger
	warningLog *logrus.Logger
	errorLog   *logrus.Logger
	files      map[string]*lumberjack.Logger
	logDir     string
	mu         sync.Mutex
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(config *config.Config) *Logger {
	if err := os.MkdirAll(config.LogDirectory, 0755); err != nil {
		log.Fatalf("Failed to create log directory: %v", err)
	}

	logger := &Logger{
		logDir: config.LogDirectory,
		files:  make(map[string]*lumberjack.Logger),
	}

	logger.setupLoggers()
	return logger
}

func (l *Logger) setupLoggers() {
	l.infoLog = l.newLevelLogger(os.Stdout, InfoFile, logrus.InfoLevel)
	l.warningLog = l.newLevelLogger(os.Stdout, WarningFile, logrus.WarnLevel)
	l.errorLog = l.newLevelLogger(os.Stderr, ErrorFile, logrus.ErrorLevel)
}

func (l *Logger) newLevelLogger(console io.Writer, fileName string, level logrus.Level) *logrus.Logger {
	file := &lumberjack.Logger{
		Filename:   filepath.Join(l.logDir, fileName),
		MaxSize:    20, // MB
		MaxBackups: 3,
		MaxAge:     14,
	}
	l.files[fileName] = file

	lg := logrus.New()
	lg.SetOutput(io.MultiWriter(console, file))
	lg.SetLevel(level)
	lg.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	})
	return lg
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.Infof(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warningLog.Warnf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLog.Errorf(format, v...)
}

// Job writes an info entry tagged with job id and kind.
func (l *Logger) Job(jobID, kind, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.WithFields(logrus.Fields{"job": jobID, "kind": kind}).Infof(format, v...)
}

// Dir returns the directory the log files live in.
func (l *Logger) Dir() string {
	return l.logDir
}

// CleanLogs empties the specified log file. The rotating writer is closed
// first so its next write reopens the file at offset 0 with a fresh size count.
func (l *Logger) CleanLogs(fileName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, ok := l.files[fileName]
	if !ok {
		return fmt.Errorf("unknown log file %q", fileName)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", fileName, err)
	}

	filePath := filepath.Join(l.logDir, fileName)
	if err := os.Truncate(filePath, 0); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to truncate %s: %w", fileName, err)
	}
	return nil
}

// Close flushes and closes the underlying log files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
