// Structured logging for the SkullStepperV4 host
//
// Provides leveled logging with structured key-value fields, text or JSON
// output, ANSI colors for terminals, and per-component loggers with prefixes.
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log message
type Level int

const (
	// DEBUG level for detailed debugging information
	DEBUG Level = iota

	// INFO level for general informational messages
	INFO

	// WARN level for warning messages
	WARN

	// ERROR level for error messages
	ERROR
)

// String returns the string representation of the log level
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Format specifies the output format for log messages
type Format int

const (
	// FormatText outputs human-readable text
	FormatText Format = iota
	// FormatJSON outputs one JSON object per line
	FormatJSON
)

// Fields is a map of structured logging fields
type Fields map[string]interface{}

// Logger writes leveled log messages for one component.
type Logger struct {
	mu         sync.Mutex
	prefix     string
	writer     io.Writer
	level      Level
	timeFormat string
	colorize   bool
	outFormat  Format
	fields     Fields
}

var ansiColors = map[Level]string{
	DEBUG: "\x1b[36m", // Cyan
	INFO:  "\x1b[32m", // Green
	WARN:  "\x1b[33m", // Yellow
	ERROR: "\x1b[31m", // Red
}

const ansiReset = "\x1b[0m"

// New creates a new logger with the given component prefix
func New(prefix string) *Logger {
	return &Logger{
		prefix:     prefix,
		writer:     os.Stderr,
		level:      INFO,
		timeFormat: "2006-01-02 15:04:05.000",
		colorize:   os.Getenv("NO_COLOR") == "",
		outFormat:  FormatText,
		fields:     make(Fields),
	}
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetWriter sets the output writer (e.g., for testing)
func (l *Logger) SetWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = w
}

// SetColorize enables or disables colorized output
func (l *Logger) SetColorize(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.colorize = enable
}

// SetFormat sets the output format (FormatText or FormatJSON)
func (l *Logger) SetFormat(format Format) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outFormat = format
}

// WithPrefix returns a child logger with a sub-component prefix, sharing
// the parent's writer, level and format.
func (l *Logger) WithPrefix(prefix string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	child := &Logger{
		prefix:     l.prefix + "." + prefix,
		writer:     l.writer,
		level:      l.level,
		timeFormat: l.timeFormat,
		colorize:   l.colorize,
		outFormat:  l.outFormat,
		fields:     make(Fields, len(l.fields)),
	}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	return child
}

// WithField returns an Entry with the given field
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{logger: l, fields: Fields{key: value}}
}

// WithFields returns an Entry with the given fields
func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{logger: l, fields: fields}
}

// WithError returns an Entry with an "error" field
func (l *Logger) WithError(err error) *Entry {
	return &Entry{logger: l, fields: Fields{"error": err.Error()}}
}

// Debug logs a message at DEBUG level
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log(DEBUG, msg, args, nil)
}

// Info logs a message at INFO level
func (l *Logger) Info(msg string, args ...interface{}) {
	l.log(INFO, msg, args, nil)
}

// Warn logs a message at WARN level
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log(WARN, msg, args, nil)
}

// Error logs a message at ERROR level
func (l *Logger) Error(msg string, args ...interface{}) {
	l.log(ERROR, msg, args, nil)
}

func (l *Logger) log(level Level, msg string, args []interface{}, fields Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}

	merged := fields
	if len(l.fields) > 0 {
		merged = make(Fields, len(l.fields)+len(fields))
		for k, v := range l.fields {
			merged[k] = v
		}
		for k, v := range fields {
			merged[k] = v
		}
	}

	var line string
	if l.outFormat == FormatJSON {
		line = l.formatJSON(level, msg, merged)
	} else {
		line = l.formatText(level, msg, merged)
	}
	fmt.Fprintln(l.writer, line)
}

func (l *Logger) formatText(level Level, msg string, fields Fields) string {
	var b strings.Builder

	b.WriteString(time.Now().Format(l.timeFormat))
	b.WriteByte(' ')
	if l.colorize {
		b.WriteString(ansiColors[level])
	}
	fmt.Fprintf(&b, "%-5s", level.String())
	if l.colorize {
		b.WriteString(ansiReset)
	}
	if l.prefix != "" {
		b.WriteString(" [")
		b.WriteString(l.prefix)
		b.WriteByte(']')
	}
	b.WriteByte(' ')
	b.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	return b.String()
}

func (l *Logger) formatJSON(level Level, msg string, fields Fields) string {
	entry := map[string]interface{}{
		"time":  time.Now().Format(time.RFC3339Nano),
		"level": level.String(),
		"msg":   msg,
	}
	if l.prefix != "" {
		entry["component"] = l.prefix
	}
	for k, v := range fields {
		entry[k] = v
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Sprintf(`{"level":"ERROR","msg":"log marshal failed: %v"}`, err)
	}
	return string(data)
}

// Entry is a log entry with attached fields
type Entry struct {
	logger *Logger
	fields Fields
}

// WithField adds a field to the entry
func (e *Entry) WithField(key string, value interface{}) *Entry {
	fields := make(Fields, len(e.fields)+1)
	for k, v := range e.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Entry{logger: e.logger, fields: fields}
}

// WithError adds an "error" field to the entry
func (e *Entry) WithError(err error) *Entry {
	return e.WithField("error", err.Error())
}

// Debug logs the entry at DEBUG level
func (e *Entry) Debug(msg string, args ...interface{}) {
	e.logger.log(DEBUG, msg, args, e.fields)
}

// Info logs the entry at INFO level
func (e *Entry) Info(msg string, args ...interface{}) {
	e.logger.log(INFO, msg, args, e.fields)
}

// Warn logs the entry at WARN level
func (e *Entry) Warn(msg string, args ...interface{}) {
	e.logger.log(WARN, msg, args, e.fields)
}

// Error logs the entry at ERROR level
func (e *Entry) Error(msg string, args ...interface{}) {
	e.logger.log(ERROR, msg, args, e.fields)
}

var (
	registryMu   sync.Mutex
	registry     = make(map[string]*Logger)
	globalLevel  = INFO
	globalWriter io.Writer
	globalFormat = FormatText
)

// GetLogger returns the shared logger for a component, creating it on
// first use. Loggers created this way inherit the settings applied by
// SetGlobalLevel and friends.
func GetLogger(component string) *Logger {
	registryMu.Lock()
	defer registryMu.Unlock()

	if l, ok := registry[component]; ok {
		return l
	}
	l := New(component)
	l.SetLevel(globalLevel)
	l.SetFormat(globalFormat)
	if globalWriter != nil {
		l.SetWriter(globalWriter)
	}
	registry[component] = l
	return l
}

// SetGlobalLevel sets the level on every registered logger and on
// loggers registered later.
func SetGlobalLevel(level Level) {
	registryMu.Lock()
	defer registryMu.Unlock()
	globalLevel = level
	for _, l := range registry {
		l.SetLevel(level)
	}
}

// SetGlobalWriter sets the writer on every registered logger and on
// loggers registered later.
func SetGlobalWriter(w io.Writer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	globalWriter = w
	for _, l := range registry {
		l.SetWriter(w)
	}
}

// SetGlobalFormat sets the output format on every registered logger and
// on loggers registered later.
func SetGlobalFormat(format Format) {
	registryMu.Lock()
	defer registryMu.Unlock()
	globalFormat = format
	for _, l := range registry {
		l.SetFormat(format)
	}
}
