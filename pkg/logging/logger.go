package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Format selects the wire shape of emitted entries.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Field is one ordinal-keyed context entry attached to a log call (spec
// §6's "message plus an ordered set of key/value context fields").
type Field struct {
	Key   string
	Value interface{}
}

// F is a terse constructor for Field, used at call sites.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Entry is one fully-resolved log record.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	EventID   string                 `json:"event_id,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

// Logger is the contract every component in the core logs against: an
// event ID (a stable string such as "watcher.tick.summary") alongside a
// human message and structured fields (spec.md §6).
type Logger interface {
	Log(level Level, eventID, message string, fields ...Field)
	WithFields(fields ...Field) Logger
	WithComponent(component string) Logger
}

// StructuredLogger is the concrete Logger backing the daemon: leveled,
// JSON-or-text, with per-call-site caller capture and optional file
// rotation.
type StructuredLogger struct {
	mu            sync.RWMutex
	level         Level
	output        io.Writer
	format        Format
	contextFields map[string]interface{}
	includeCaller bool
	rotator       *Rotator
}

// Config configures a StructuredLogger.
type Config struct {
	Level         Level
	Output        io.Writer
	Format        Format
	IncludeCaller bool
	Rotation      *RotationConfig
}

// DefaultConfig returns sane defaults: Normal level, text format, stdout.
func DefaultConfig() *Config {
	return &Config{
		Level:         LevelNormal,
		Output:        os.Stdout,
		Format:        FormatText,
		IncludeCaller: true,
	}
}

// New builds a StructuredLogger from config, wiring file rotation when
// config.Rotation is set.
func New(config *Config) (*StructuredLogger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	logger := &StructuredLogger{
		level:         config.Level,
		output:        config.Output,
		format:        config.Format,
		contextFields: make(map[string]interface{}),
		includeCaller: config.IncludeCaller,
	}
	if logger.output == nil {
		logger.output = os.Stdout
	}

	if config.Rotation != nil {
		rotator, err := NewRotator(config.Rotation)
		if err != nil {
			return nil, fmt.Errorf("failed to create log rotator: %w", err)
		}
		logger.rotator = rotator
		logger.output = rotator
	}

	return logger, nil
}

// WithFields returns a logger that always carries the given fields.
func (sl *StructuredLogger) WithFields(fields ...Field) Logger {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	merged := make(map[string]interface{}, len(sl.contextFields)+len(fields))
	for k, v := range sl.contextFields {
		merged[k] = v
	}
	for _, f := range fields {
		merged[f.Key] = f.Value
	}

	return &StructuredLogger{
		level:         sl.level,
		output:        sl.output,
		format:        sl.format,
		contextFields: merged,
		includeCaller: sl.includeCaller,
		rotator:       sl.rotator,
	}
}

// WithComponent is shorthand for WithFields(F("component", component)).
func (sl *StructuredLogger) WithComponent(component string) Logger {
	return sl.WithFields(F("component", component))
}

// SetLevel changes the minimum level emitted.
func (sl *StructuredLogger) SetLevel(level Level) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.level = level
}

func (sl *StructuredLogger) enabled(level Level) bool {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return level >= sl.level
}

// Log writes one entry if its level is enabled.
func (sl *StructuredLogger) Log(level Level, eventID, message string, fields ...Field) {
	if !sl.enabled(level) {
		return
	}

	entry := Entry{
		Timestamp: time.Now(),
		Level:     level.String(),
		EventID:   eventID,
		Message:   message,
		Fields:    make(map[string]interface{}),
	}

	sl.mu.RLock()
	for k, v := range sl.contextFields {
		entry.Fields[k] = v
	}
	sl.mu.RUnlock()

	for _, f := range fields {
		entry.Fields[f.Key] = f.Value
	}

	if sl.includeCaller {
		if _, file, line, ok := runtime.Caller(1); ok {
			parts := strings.Split(file, "/")
			entry.Caller = fmt.Sprintf("%s:%d", parts[len(parts)-1], line)
		}
	}

	var out string
	if sl.format == FormatJSON {
		b, err := json.Marshal(entry)
		if err != nil {
			out = sl.formatText(entry)
		} else {
			out = string(b) + "\n"
		}
	} else {
		out = sl.formatText(entry)
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	_, _ = sl.output.Write([]byte(out))
}

func (sl *StructuredLogger) formatText(entry Entry) string {
	var sb strings.Builder

	sb.WriteString(entry.Timestamp.Format("2006-01-02 15:04:05.000"))
	sb.WriteString(" [")
	sb.WriteString(entry.Level)
	sb.WriteString("] ")

	if entry.EventID != "" {
		sb.WriteString(entry.EventID)
		sb.WriteString(" ")
	}

	if entry.Caller != "" {
		sb.WriteString("[")
		sb.WriteString(entry.Caller)
		sb.WriteString("] ")
	}

	sb.WriteString(entry.Message)

	if len(entry.Fields) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range entry.Fields {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(fmt.Sprintf("%v", v))
		}
		sb.WriteString("}")
	}

	sb.WriteString("\n")
	return sb.String()
}

// Close releases the rotator's file handle, if any.
func (sl *StructuredLogger) Close() error {
	if sl.rotator != nil {
		return sl.rotator.Close()
	}
	return nil
}

// Sync flushes the rotator's file handle, if any.
func (sl *StructuredLogger) Sync() error {
	if sl.rotator != nil {
		return sl.rotator.Sync()
	}
	return nil
}
