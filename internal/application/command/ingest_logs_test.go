package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrlab/classroom-monitor/internal/domain/activity"
	"github.com/vrlab/classroom-monitor/internal/domain/shared"
)

var receivedAt = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func TestParseLogs_JSONEnvelopes(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantSources []string
		wantInvalid int
	}{
		{
			name:        "logs array",
			body:        `{"logs":[{"sourceIp":"10.0.0.5","type":"HelpRequest"},{"source_ip":"10.0.0.6","log_type":"Movement"}]}`,
			wantSources: []string{"10.0.0.5", "10.0.0.6"},
		},
		{
			name:        "single log envelope",
			body:        `{"log":{"ip":"10.0.0.7","type":"PortAdded"}}`,
			wantSources: []string{"10.0.0.7"},
		},
		{
			name:        "bare log object",
			body:        `{"src":"10.0.0.8","type":"BlockGrab"}`,
			wantSources: []string{"10.0.0.8"},
		},
		{
			name:        "top level array",
			body:        `[{"source":"10.0.0.9"}]`,
			wantSources: []string{"10.0.0.9"},
		},
		{
			name:        "entries without a source are invalid",
			body:        `{"logs":[{"type":"Movement"},"junk",{"sourceIp":"10.0.0.5"}]}`,
			wantSources: []string{"10.0.0.5"},
			wantInvalid: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, invalid, err := ParseLogs("application/json; charset=utf-8", []byte(tt.body), receivedAt)
			require.NoError(t, err)
			assert.Equal(t, tt.wantInvalid, invalid)

			var sources []string
			for _, r := range records {
				sources = append(sources, r.SourceKey)
				assert.Equal(t, receivedAt, r.ReceivedAt)
				assert.NotEmpty(t, r.RawLog)
			}
			assert.Equal(t, tt.wantSources, sources)
		})
	}
}

func TestParseLogs_FieldMapping(t *testing.T) {
	body := `{"log":{"sourceIp":" 10.0.0.5 ","type":"MenuButton","content":{"buttonName":"Help"},"time":12.5}}`

	records, _, err := ParseLogs("application/json", []byte(body), receivedAt)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "10.0.0.5", r.SourceKey)
	assert.Equal(t, "MenuButton", r.LogType)
	assert.Equal(t, "Help", r.Content["buttonName"])
	assert.Equal(t, 12.5, r.TimeSeconds)

	ev, err := activity.Normalize(r.ToRawEvent("x"), receivedAt)
	require.NoError(t, err)
	assert.True(t, ev.IsHelpSignal)
}

func TestParseLogs_Defaults(t *testing.T) {
	records, _, err := ParseLogs("application/json", []byte(`{"log":{"sourceIp":"10.0.0.5","content":"pressed"}}`), receivedAt)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, activity.UnknownLogType, records[0].LogType)
	assert.Equal(t, map[string]any{"value": "pressed"}, records[0].Content)
	assert.Zero(t, records[0].TimeSeconds)
}

func TestParseLogs_Text(t *testing.T) {
	body := "10.0.0.5 -> {\"type\":\"PortAdded\",\"content\":{\"port\":3},\"time\":4}\n" +
		"\n" +
		"garbage line\n" +
		"10.0.0.6->{not json}\n"

	records, invalid, err := ParseLogs("text/plain", []byte(body), receivedAt)
	require.NoError(t, err)
	assert.Zero(t, invalid)
	require.Len(t, records, 2)

	assert.Equal(t, "10.0.0.5", records[0].SourceKey)
	assert.Equal(t, "PortAdded", records[0].LogType)
	assert.Equal(t, 4.0, records[0].TimeSeconds)
	assert.Contains(t, records[0].RawLog, "10.0.0.5 ->")

	assert.Equal(t, "10.0.0.6", records[1].SourceKey)
	assert.Equal(t, activity.UnknownLogType, records[1].LogType)
	assert.Empty(t, records[1].Content)
}

func TestParseLogs_Rejects(t *testing.T) {
	_, _, err := ParseLogs("application/xml", []byte(`<x/>`), receivedAt)
	assert.ErrorIs(t, err, shared.ErrUnsupportedContentType)

	_, _, err = ParseLogs("application/json", []byte(`{bad`), receivedAt)
	assert.ErrorIs(t, err, shared.ErrInvalidLogFormat)

	_, _, err = ParseLogs("application/json", []byte(`{"hello":"world"}`), receivedAt)
	assert.ErrorIs(t, err, shared.ErrInvalidLogFormat)
	assert.True(t, shared.IsValidation(err))
}

type fakeSink struct {
	records []activity.LogRecord
	failAll error
	failN   int
}

func (s *fakeSink) AppendLogs(_ context.Context, records []activity.LogRecord) (int, int, error) {
	if s.failAll != nil {
		return 0, len(records), s.failAll
	}
	ok := len(records) - s.failN
	s.records = append(s.records, records[:ok]...)
	return ok, s.failN, nil
}

func TestIngestLogsHandler(t *testing.T) {
	sink := &fakeSink{failN: 1}
	h := NewIngestLogsHandler(sink, nil)

	res, err := h.Handle(context.Background(), IngestLogsCommand{
		ContentType: "application/json",
		Body:        []byte(`{"logs":[{"sourceIp":"10.0.0.5"},{"sourceIp":"10.0.0.6"},{"type":"x"}]}`),
		ReceivedAt:  receivedAt,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 2, res.Errors)
	assert.Len(t, sink.records, 1)
}

func TestIngestLogsHandler_StoreDown(t *testing.T) {
	h := NewIngestLogsHandler(&fakeSink{failAll: errors.New("connection refused")}, nil)

	_, err := h.Handle(context.Background(), IngestLogsCommand{
		ContentType: "application/json",
		Body:        []byte(`{"log":{"sourceIp":"10.0.0.5"}}`),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrLogStore)
	assert.True(t, shared.IsExternalService(err))
}

func TestIngestLogsHandler_Validate(t *testing.T) {
	h := NewIngestLogsHandler(&fakeSink{}, nil)
	_, err := h.Handle(context.Background(), IngestLogsCommand{ContentType: "image/png"})
	assert.ErrorIs(t, err, shared.ErrUnsupportedContentType)
}
