// Package command contains write operations (CQRS - Commands).
package command

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"regexp"
	"strings"
	"time"

	"github.com/vrlab/classroom-monitor/internal/domain/activity"
	"github.com/vrlab/classroom-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// INGEST LOGS COMMAND
// Accepts headset router logs as JSON or as "IP -> {json}" text lines and
// appends them to the interaction log, which feeds every observing monitor.
// ══════════════════════════════════════════════════════════════════════════════

// IngestLogsCommand contains one upload from a router.
type IngestLogsCommand struct {
	// ContentType is the request Content-Type header.
	ContentType string

	// Body is the raw request body.
	Body []byte

	// ReceivedAt stamps the stored records (defaults to now if zero).
	ReceivedAt time.Time
}

// Validate validates the command.
func (c IngestLogsCommand) Validate() error {
	if _, err := payloadFormat(c.ContentType); err != nil {
		return err
	}
	return nil
}

// IngestLogsResult reports how many logs were stored.
type IngestLogsResult struct {
	Success   bool `json:"success"`
	Processed int  `json:"processed"`
	Errors    int  `json:"errors"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// IngestLogsHandler handles the IngestLogsCommand.
type IngestLogsHandler struct {
	sink   activity.LogSink
	logger *slog.Logger
}

// NewIngestLogsHandler creates a new IngestLogsHandler.
func NewIngestLogsHandler(sink activity.LogSink, logger *slog.Logger) *IngestLogsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestLogsHandler{sink: sink, logger: logger}
}

// Handle parses and stores the upload. Individual bad logs are counted in
// Errors; only an unreadable upload or a store that rejects everything
// fails the command.
func (h *IngestLogsHandler) Handle(ctx context.Context, cmd IngestLogsCommand) (*IngestLogsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	receivedAt := cmd.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	records, invalid, err := ParseLogs(cmd.ContentType, cmd.Body, receivedAt)
	if err != nil {
		return nil, err
	}

	result := &IngestLogsResult{Success: true, Errors: invalid}
	if len(records) == 0 {
		return result, nil
	}

	stored, failed, err := h.sink.AppendLogs(ctx, records)
	if err != nil && stored == 0 {
		h.logger.Error("router logs rejected", "count", len(records), "error", err)
		return nil, shared.ErrLogStore.Wrap(err)
	}

	result.Processed = stored
	result.Errors += failed
	h.logger.Debug("router logs ingested", "processed", stored, "errors", result.Errors)
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PARSING
// ══════════════════════════════════════════════════════════════════════════════

type format int

const (
	formatJSON format = iota
	formatText
)

func payloadFormat(contentType string) (format, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch {
	case strings.Contains(mediaType, "application/json"):
		return formatJSON, nil
	case strings.Contains(mediaType, "text/plain"):
		return formatText, nil
	default:
		return 0, shared.ErrUnsupportedContentType.Wrap(fmt.Errorf("content type %q", contentType))
	}
}

// logLinePattern matches "10.0.0.5 -> {...}".
var logLinePattern = regexp.MustCompile(`(\d+\.\d+\.\d+\.\d+)\s*->\s*(\{.+)`)

var (
	sourceFields   = []string{"sourceIp", "source_ip", "ip", "source", "src"}
	typeFields     = []string{"type", "log_type"}
	timeFields     = []string{"time", "time_seconds"}
	envelopeFields = []string{"logs", "log"}
)

// ParseLogs turns an upload into records. It returns the number of logs that
// could not be turned into a record, and an error only when the upload as a
// whole is unreadable.
func ParseLogs(contentType string, body []byte, receivedAt time.Time) ([]activity.LogRecord, int, error) {
	f, err := payloadFormat(contentType)
	if err != nil {
		return nil, 0, err
	}

	var entries []map[string]any
	if f == formatText {
		entries = parseLogText(body)
	} else {
		entries, err = parseLogJSON(body)
		if err != nil {
			return nil, 0, err
		}
	}

	records := make([]activity.LogRecord, 0, len(entries))
	invalid := 0
	for _, entry := range entries {
		rec, ok := toRecord(entry, receivedAt)
		if !ok {
			invalid++
			continue
		}
		records = append(records, rec)
	}
	return records, invalid, nil
}

func parseLogJSON(body []byte) ([]map[string]any, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, shared.ErrInvalidLogFormat.Wrap(err)
	}

	switch v := doc.(type) {
	case []any:
		return objects(v), nil
	case map[string]any:
		if logs, ok := v["logs"].([]any); ok {
			return objects(logs), nil
		}
		if one, ok := v["log"].(map[string]any); ok {
			return []map[string]any{one}, nil
		}
		if _, ok := firstString(v, sourceFields); ok {
			return []map[string]any{v}, nil
		}
	}
	return nil, shared.ErrInvalidLogFormat.Wrap(fmt.Errorf("expected %v or a log object", envelopeFields))
}

// objects keeps non-object entries as empty maps so they count as invalid.
func objects(items []any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m, _ := item.(map[string]any)
		if m == nil {
			m = map[string]any{}
		}
		out = append(out, m)
	}
	return out
}

// parseLogText reads "IP -> {json}" lines. Lines that do not match are
// skipped; a line whose JSON part is unreadable is kept as an unknown log.
func parseLogText(body []byte) []map[string]any {
	var out []map[string]any

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		m := logLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		entry := map[string]any{"sourceIp": m[1], "raw_log": line}

		var data map[string]any
		dec := json.NewDecoder(strings.NewReader(m[2]))
		dec.UseNumber()
		if err := dec.Decode(&data); err != nil {
			entry["type"] = activity.UnknownLogType
			entry["content"] = map[string]any{}
		} else {
			entry["type"] = data["type"]
			entry["content"] = data["content"]
			entry["time"] = data["time"]
		}
		out = append(out, entry)
	}
	return out
}

func toRecord(entry map[string]any, receivedAt time.Time) (activity.LogRecord, bool) {
	source, ok := firstString(entry, sourceFields)
	if !ok {
		return activity.LogRecord{}, false
	}

	logType, ok := firstString(entry, typeFields)
	if !ok {
		logType = activity.UnknownLogType
	}

	rec := activity.LogRecord{
		SourceKey:   source,
		LogType:     logType,
		Content:     contentOf(entry["content"]),
		TimeSeconds: firstNumber(entry, timeFields),
		ReceivedAt:  receivedAt,
	}

	if raw, ok := entry["raw_log"].(string); ok && raw != "" {
		rec.RawLog = raw
	} else if data, err := json.Marshal(entry); err == nil {
		rec.RawLog = string(data)
	}
	return rec, true
}

func contentOf(v any) map[string]any {
	switch c := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return c
	default:
		return map[string]any{"value": c}
	}
}

func firstString(m map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}

func firstNumber(m map[string]any, keys []string) float64 {
	for _, k := range keys {
		switch n := m[k].(type) {
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f
			}
		case float64:
			return n
		}
	}
	return 0
}
