// Package logger provides the tagged, levelled log used across the bridge.
//
// Each component owns a Log with a short tag ("IOLOOP", "LOOPM", ...). Lines
// are written as "TAG: detail" to a central standard library logger unless a
// Log is given its own output.
package logger

import (
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/ezrec/dbgbridge/translate"
)

// Level selects which messages reach the output.
type Level int

const (
	LevelDefault Level = iota - 1 // Use the central level.
	LevelError
	LevelWarning
	LevelInfo
	LevelDebug
	LevelDetail
)

var levelNames = map[string]Level{
	"error":   LevelError,
	"warning": LevelWarning,
	"info":    LevelInfo,
	"debug":   LevelDebug,
	"detail":  LevelDetail,
}

// ParseLevel returns the level with the given name.
func ParseLevel(name string) (level Level, err error) {
	level, ok := levelNames[strings.ToLower(name)]
	if !ok {
		err = ErrLevelUnknown(name)
	}
	return
}

var (
	centralMu    sync.Mutex
	centralLevel = LevelWarning
	central      = log.New(os.Stderr, "", log.LstdFlags)
)

// SetOutput redirects the central log.
func SetOutput(w io.Writer) {
	centralMu.Lock()
	defer centralMu.Unlock()
	central.SetOutput(w)
}

// SetLevel sets the central level, used by every Log without its own level.
func SetLevel(level Level) {
	centralMu.Lock()
	defer centralMu.Unlock()
	centralLevel = level
}

// Log is a tagged logger.
type Log struct {
	tag    string
	level  Level
	output *log.Logger
}

// New returns a Log writing to the central log at the central level.
func New(tag string) *Log {
	return &Log{tag: tag, level: LevelDefault}
}

// NewWithOutput returns a Log with its own output and level.
func NewWithOutput(tag string, w io.Writer, level Level) *Log {
	return &Log{
		tag:    tag,
		level:  level,
		output: log.New(w, "", 0),
	}
}

// Tag of the log.
func (l *Log) Tag() string {
	return l.tag
}

func (l *Log) enabled(level Level) bool {
	if l.level != LevelDefault {
		return level <= l.level
	}
	centralMu.Lock()
	defer centralMu.Unlock()
	return level <= centralLevel
}

func (l *Log) logf(level Level, format string, args ...any) {
	if l == nil || !l.enabled(level) {
		return
	}

	detail := translate.From(format, args...)
	detail = strings.TrimRight(detail, "\n")
	detail = strings.ReplaceAll(detail, "\n", " ")

	out := l.output
	if out == nil {
		out = central
	}
	out.Print(l.tag + ": " + detail)
}

// Error logs a message that ends the activity of the component.
func (l *Log) Error(format string, args ...any) {
	l.logf(LevelError, format, args...)
}

// Warning logs a recoverable problem.
func (l *Log) Warning(format string, args ...any) {
	l.logf(LevelWarning, format, args...)
}

// Info logs a notable event.
func (l *Log) Info(format string, args ...any) {
	l.logf(LevelInfo, format, args...)
}

// Debug logs state changes useful when debugging.
func (l *Log) Debug(format string, args ...any) {
	l.logf(LevelDebug, format, args...)
}

// Detail logs per-transfer traces.
func (l *Log) Detail(format string, args ...any) {
	l.logf(LevelDetail, format, args...)
}
