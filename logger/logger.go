package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	AppLogger     *log.Logger
	CaptureLogger *log.Logger
	ErrorLogger   *log.Logger

	mu             sync.RWMutex
	logLevel       = "INFO"
	appLogFile     *os.File
	captureLogFile *os.File
	initialized    bool
)

var levelRank = map[string]int{
	"DEBUG": 0,
	"INFO":  1,
	"WARN":  2,
	"ERROR": 3,
}

// openLogWriter opens path for appending. When the directory or the file
// cannot be created the returned writer discards output.
func openLogWriter(path, name string) (io.Writer, *os.File, string) {
	if path == "" {
		return io.Discard, nil, "(discarded)"
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		ErrorLogger.Printf("Failed to create %s log directory %s: %v. %s logs will be discarded.", name, dir, err, name)
		return io.Discard, nil, "(discarded)"
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		ErrorLogger.Printf("Failed to open %s log file %s: %v. %s logs will be discarded.", name, path, err, name)
		return io.Discard, nil, "(discarded)"
	}
	return f, f, path
}

// InitGlobalLoggers (re)opens the application and capture log files.
// Errors always go to stderr regardless of the configured level.
func InitGlobalLoggers(appLogPath, captureLogPath, level string) error {
	mu.Lock()
	defer mu.Unlock()

	normalized := strings.ToUpper(strings.TrimSpace(level))
	if _, ok := levelRank[normalized]; !ok {
		normalized = "INFO"
	}
	if initialized && appLogFile != nil && captureLogFile != nil && normalized == logLevel &&
		appLogFile.Name() == appLogPath && captureLogFile.Name() == captureLogPath {
		return nil
	}
	closeFilesLocked()

	logLevel = normalized
	ErrorLogger = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)

	var appWriter, captureWriter io.Writer
	var appTarget, captureTarget string
	appWriter, appLogFile, appTarget = openLogWriter(appLogPath, "app")
	captureWriter, captureLogFile, captureTarget = openLogWriter(captureLogPath, "capture")

	AppLogger = log.New(appWriter, "APP: ", log.Ldate|log.Ltime|log.Lshortfile)
	CaptureLogger = log.New(captureWriter, "CAPTURE: ", log.Ldate|log.Ltime|log.Lshortfile)

	if !initialized {
		AppLogger.Printf("App logger initialized. Log level: %s. Output file: %s", logLevel, appTarget)
		CaptureLogger.Printf("Capture logger initialized. Log level: %s. Output file: %s", logLevel, captureTarget)
	}
	initialized = true
	return nil
}

// SetOutput points every logger at w. Used by tests and the one-shot CLI
// commands that have no log file.
func SetOutput(w io.Writer, level string) {
	mu.Lock()
	defer mu.Unlock()
	closeFilesLocked()
	logLevel = strings.ToUpper(level)
	if _, ok := levelRank[logLevel]; !ok {
		logLevel = "INFO"
	}
	AppLogger = log.New(w, "APP: ", log.Ldate|log.Ltime|log.Lshortfile)
	CaptureLogger = log.New(w, "CAPTURE: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLogger = log.New(w, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
	initialized = true
}

func enabled(level string) bool {
	mu.RLock()
	defer mu.RUnlock()
	return levelRank[level] >= levelRank[logLevel]
}

func output(l *log.Logger, message string) {
	if l != nil {
		_ = l.Output(3, message)
	}
}

func Info(format string, v ...interface{}) {
	if enabled("INFO") {
		output(AppLogger, fmt.Sprintf(format, v...))
	}
}

func Debug(format string, v ...interface{}) {
	if enabled("DEBUG") {
		output(AppLogger, fmt.Sprintf(format, v...))
	}
}

func Warn(format string, v ...interface{}) {
	if enabled("WARN") {
		output(AppLogger, "WARN: "+fmt.Sprintf(format, v...))
	}
}

func Error(format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	output(ErrorLogger, message)
	if appLogFile != nil {
		output(AppLogger, message)
	}
}

func Fatal(format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	if ErrorLogger != nil {
		ErrorLogger.Fatal(message)
	}
	log.Fatal(message)
}

func CaptureInfo(format string, v ...interface{}) {
	if enabled("INFO") {
		output(CaptureLogger, fmt.Sprintf(format, v...))
	}
}

func CaptureDebug(format string, v ...interface{}) {
	if enabled("DEBUG") {
		output(CaptureLogger, fmt.Sprintf(format, v...))
	}
}

func CaptureError(format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	output(ErrorLogger, message)
	if captureLogFile != nil {
		output(CaptureLogger, message)
	}
}

func closeFilesLocked() {
	if appLogFile != nil {
		appLogFile.Close()
		appLogFile = nil
	}
	if captureLogFile != nil {
		captureLogFile.Close()
		captureLogFile = nil
	}
}

func CloseLogFiles() {
	mu.Lock()
	defer mu.Unlock()
	if appLogFile != nil && AppLogger != nil {
		AppLogger.Println("Closing app log file.")
	}
	if captureLogFile != nil && CaptureLogger != nil {
		CaptureLogger.Println("Closing capture log file.")
	}
	closeFilesLocked()
	initialized = false
}
