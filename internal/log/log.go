package log

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var initOnce sync.Once

// Setup sends the default slog logger to a rotating JSON log file. Only the
// first call has an effect.
func Setup(logFile string, debug bool) {
	initOnce.Do(func() {
		logRotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // Max size in MB
			MaxBackups: 0,  // Number of backups
			MaxAge:     30, // Days
			Compress:   false,
		}

		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}

		handler := slog.NewJSONHandler(logRotator, &slog.HandlerOptions{
			Level:     level,
			AddSource: true,
		})

		slog.SetDefault(slog.New(handler))
	})
}

// RecoverPanic logs a panic in a goroutine, writes the stack next to the
// working directory and runs cleanup. Use it deferred.
func RecoverPanic(name string, cleanup func()) {
	r := recover()
	if r == nil {
		return
	}

	slog.Error("panic recovered", "name", name, "panic", r)

	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("pshell-panic-%s-%s.log", name, timestamp)
	if file, err := os.Create(filename); err == nil {
		fmt.Fprintf(file, "Panic in %s: %v\n\n", name, r)
		fmt.Fprintf(file, "Time: %s\n\n", time.Now().Format(time.RFC3339))
		fmt.Fprintf(file, "Stack Trace:\n%s\n", debug.Stack())
		file.Close()
	}

	if cleanup != nil {
		cleanup()
	}
}
