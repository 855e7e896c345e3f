package logging

import (
	"fmt"
	"io"
	"os"
)

// EarlyLog prints to stderr before the structured logger exists, that is while
// flags and config are still being resolved.
type EarlyLog struct {
	out    io.Writer
	prefix string
}

func NewEarlyLog(component string) *EarlyLog {
	return &EarlyLog{out: os.Stderr, prefix: component}
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	l.write("ERROR", msg, args...)
}

func (l *EarlyLog) Fatal(msg string, args ...interface{}) {
	l.write("FATAL", msg, args...)
	os.Exit(1)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.write("WARN", msg, args...)
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	l.write("INFO", msg, args...)
}

func (l *EarlyLog) write(level, msg string, args ...interface{}) {
	line := fmt.Sprintf(msg, args...)
	if l.prefix != "" {
		fmt.Fprintf(l.out, "%s [%s] %s\n", level, l.prefix, line)
		return
	}
	fmt.Fprintf(l.out, "%s: %s\n", level, line)
}
