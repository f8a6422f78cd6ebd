package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	cDbg  = color.New(color.FgHiBlack, color.Bold).SprintFunc()
	cInf  = color.New(color.FgCyan, color.Bold).SprintFunc()
	cWarn = color.New(color.FgYellow, color.Bold).SprintFunc()
	cErr  = color.New(color.FgRed, color.Bold).SprintFunc()
	cSucc = color.New(color.FgGreen, color.Bold).SprintFunc()
	cFatl = color.New(color.BgRed, color.FgWhite, color.Bold).SprintFunc()
	cTime = color.New(color.FgHiBlack).SprintFunc()
	cName = color.New(color.FgMagenta).SprintFunc()
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Options configures the default logger. File enables a rotated copy of
// every line on disk.
type Options struct {
	Level      Level
	NoColor    bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type sink struct {
	mu    sync.Mutex
	out   io.Writer
	err   io.Writer
	level Level
}

// Logger writes timestamped, colored lines. Named loggers share the sink of
// their parent.
type Logger struct {
	name string
	s    *sink
}

var std = &Logger{s: &sink{out: os.Stdout, err: os.Stderr, level: LevelInfo}}

func init() {
	log.SetFlags(0)
}

// Setup reconfigures the default logger.
func Setup(opts Options) {
	color.NoColor = color.NoColor || opts.NoColor

	out, errOut := io.Writer(os.Stdout), io.Writer(os.Stderr)
	if opts.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		out = io.MultiWriter(os.Stdout, rotated)
		errOut = io.MultiWriter(os.Stderr, rotated)
	}

	std.s.mu.Lock()
	std.s.out, std.s.err, std.s.level = out, errOut, opts.Level
	std.s.mu.Unlock()
}

// Default returns the process-wide logger.
func Default() *Logger { return std }

// New builds a standalone logger writing to w. Used by tests.
func New(w io.Writer, level Level) *Logger {
	return &Logger{s: &sink{out: w, err: w, level: level}}
}

// Named returns a child logger whose lines carry the component name.
func (l *Logger) Named(name string) *Logger {
	if l == nil {
		l = std
	}
	if l.name != "" {
		name = l.name + "/" + name
	}
	return &Logger{name: name, s: l.s}
}

func timeStamp() string {
	return cTime(time.Now().Format("2006-01-02 15:04"))
}

func (l *Logger) write(level Level, tag string, toErr bool, format string, v ...interface{}) {
	if l == nil {
		l = std
	}
	if level < l.s.level {
		return
	}
	msg := fmt.Sprintf(format, v...)
	if l.name != "" {
		msg = cName("["+l.name+"]") + " " + msg
	}

	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	w := l.s.out
	if toErr {
		w = l.s.err
	}
	fmt.Fprintf(w, "%s %s %s\n", timeStamp(), tag, msg)
}

func (l *Logger) Debug(format string, v ...interface{}) {
	l.write(LevelDebug, cDbg("[DBG]"), false, format, v...)
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.write(LevelInfo, cInf("[INFO]"), false, format, v...)
}

func (l *Logger) Success(format string, v ...interface{}) {
	l.write(LevelInfo, cSucc("[OK]"), false, format, v...)
}

func (l *Logger) Warn(format string, v ...interface{}) {
	l.write(LevelWarn, cWarn("[WARN]"), false, format, v...)
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.write(LevelError, cErr("[ERR]"), true, format, v...)
}

func LogDebug(format string, v ...interface{})   { std.Debug(format, v...) }
func LogInfo(format string, v ...interface{})    { std.Info(format, v...) }
func LogSuccess(format string, v ...interface{}) { std.Success(format, v...) }
func LogWarn(format string, v ...interface{})    { std.Warn(format, v...) }
func LogError(format string, v ...interface{})   { std.Error(format, v...) }

func LogFatal(format string, v ...interface{}) {
	std.write(LevelError, cFatl("[FATAL]"), true, format, v...)
	os.Exit(1)
}

func LogServerStart(port int, baseURL string) {
	fmt.Println()
	fmt.Printf("   %s  %s\n", cSucc("⚡ Server is Active"), cTime("waiting for uploads..."))
	fmt.Printf("   %s  %s\n", cInf("➜ Local:"), fmt.Sprintf("http://localhost:%d", port))
	fmt.Printf("   %s  %s\n", cInf("➜ Public:"), color.New(color.FgHiBlue, color.Underline).Sprint(baseURL))
	fmt.Println()
}
