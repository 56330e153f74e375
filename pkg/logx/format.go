package logx

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Fields is structured context attached to a log line.
type Fields map[string]any

// LogEntry is one record handed to a Formatter.
type LogEntry struct {
	Level     Level
	Message   string
	Fields    Fields
	Data      any
	Error     error
	Timestamp time.Time
	Caller    string
}

// Formatter encodes a LogEntry into a single output line.
type Formatter interface {
	Format(entry *LogEntry) ([]byte, error)
}

func newFormatter(cfg *Config) Formatter {
	if cfg.Format == FormatJSON {
		return &JSONFormatter{config: cfg}
	}
	return &ConsoleFormatter{config: cfg}
}

func sortedKeys(fields Fields) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ── JSON ────────────────────────────────────────────────────────────────

type JSONFormatter struct {
	config *Config
}

func (f *JSONFormatter) Format(entry *LogEntry) ([]byte, error) {
	data := make(map[string]any, len(entry.Fields)+5)
	for k, v := range entry.Fields {
		data[k] = v
	}

	data["level"] = entry.Level.String()
	data["message"] = entry.Message
	data["timestamp"] = entry.Timestamp.UTC().Format(time.RFC3339Nano)
	if entry.Caller != "" {
		data["caller"] = entry.Caller
	}
	if entry.Error != nil {
		data["error"] = entry.Error.Error()
	}
	if entry.Data != nil {
		data["data"] = entry.Data
	}

	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// ── Console ─────────────────────────────────────────────────────────────

const (
	colorReset   = "\033[0m"
	colorRed     = "\033[31m"
	colorCyan    = "\033[36m"
	colorGray    = "\033[90m"
	colorBoldRed = "\033[1;31m"
	colorBoldYel = "\033[1;33m"
	colorBoldGrn = "\033[1;32m"
	colorBoldCyn = "\033[1;36m"
)

var levelColors = map[Level]string{
	LevelTrace: colorGray,
	LevelDebug: colorBoldCyn,
	LevelInfo:  colorBoldGrn,
	LevelWarn:  colorBoldYel,
	LevelError: colorBoldRed,
	LevelFatal: colorBoldRed,
}

type ConsoleFormatter struct {
	config *Config
}

func (f *ConsoleFormatter) paint(b *strings.Builder, color, s string) {
	if f.config.EnableColors && color != "" {
		b.WriteString(color)
		b.WriteString(s)
		b.WriteString(colorReset)
		return
	}
	b.WriteString(s)
}

func (f *ConsoleFormatter) Format(entry *LogEntry) ([]byte, error) {
	var b strings.Builder

	f.paint(&b, colorGray, entry.Timestamp.Format(f.config.TimeFormat))
	b.WriteByte(' ')
	f.paint(&b, levelColors[entry.Level], fmt.Sprintf("[%-5s]", entry.Level.String()))
	b.WriteByte(' ')

	if entry.Caller != "" {
		f.paint(&b, colorGray, "["+entry.Caller+"]")
		b.WriteByte(' ')
	}

	b.WriteString(entry.Message)

	if len(entry.Fields) > 0 {
		pairs := make([]string, 0, len(entry.Fields))
		for _, k := range sortedKeys(entry.Fields) {
			pairs = append(pairs, fmt.Sprintf("%s=%v", k, entry.Fields[k]))
		}
		b.WriteByte(' ')
		f.paint(&b, colorCyan, strings.Join(pairs, " "))
	}

	if entry.Error != nil {
		b.WriteString("\n")
		f.paint(&b, colorRed, "  error: "+entry.Error.Error())
	}

	if entry.Data != nil {
		pretty, err := json.MarshalIndent(entry.Data, "  ", "  ")
		if err != nil {
			pretty = []byte(fmt.Sprintf("%+v", entry.Data))
		}
		b.WriteString("\n  ")
		f.paint(&b, colorGray, string(pretty))
	}

	b.WriteByte('\n')
	return []byte(b.String()), nil
}
