package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vrlab/classroom-monitor/internal/domain/activity"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOG REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// LogRepository appends headset logs to router_logs and keeps the per source
// interaction counters.
type LogRepository struct {
	conn   *Connection
	logger *slog.Logger
}

// NewLogRepository creates a new LogRepository.
func NewLogRepository(conn *Connection, logger *slog.Logger) *LogRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRepository{conn: conn, logger: logger}
}

// AppendLogs implements activity.LogSink. Each record is inserted on its own
// so a bad record does not lose its neighbours.
func (r *LogRepository) AppendLogs(ctx context.Context, records []activity.LogRecord) (int, int, error) {
	var (
		stored, failed int
		lastErr        error
	)
	for _, rec := range records {
		if err := r.append(ctx, rec); err != nil {
			failed++
			lastErr = err
			r.logger.Warn("router log insert failed", "source_ip", rec.SourceKey, "log_type", rec.LogType, "error", err)
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrConnectionClosed) {
				failed = len(records) - stored
				break
			}
			continue
		}
		stored++
		r.countInteraction(ctx, rec)
	}
	if stored == 0 && lastErr != nil {
		return stored, failed, lastErr
	}
	return stored, failed, nil
}

func (r *LogRepository) append(ctx context.Context, rec activity.LogRecord) error {
	content := rec.Content
	if content == nil {
		content = map[string]any{}
	}
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to marshal content: %w", err)
	}

	logType := rec.LogType
	if logType == "" {
		logType = activity.UnknownLogType
	}
	receivedAt := rec.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO router_logs (id, source_ip, log_type, content, time_seconds, timestamp, raw_log)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.conn.Exec(ctx, query,
		uuid.NewString(),
		rec.SourceKey,
		logType,
		contentJSON,
		rec.TimeSeconds,
		receivedAt,
		rec.RawLog,
	)
	if err != nil {
		return fmt.Errorf("failed to insert router log: %w", err)
	}
	return nil
}

// countInteraction bumps the statistics row. Failures are logged only.
func (r *LogRepository) countInteraction(ctx context.Context, rec activity.LogRecord) {
	logType := rec.LogType
	if logType == "" {
		logType = activity.UnknownLogType
	}

	query := `
		INSERT INTO interaction_statistics (source_ip, log_type, interaction_count, last_interaction)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (source_ip, log_type) DO UPDATE SET
			interaction_count = interaction_statistics.interaction_count + 1,
			last_interaction = EXCLUDED.last_interaction
	`
	if _, err := r.conn.Exec(ctx, query, rec.SourceKey, logType); err != nil {
		r.logger.Warn("interaction statistics update failed", "source_ip", rec.SourceKey, "log_type", logType, "error", err)
	}
}

// InteractionStat is one row of per source, per type counters.
type InteractionStat struct {
	SourceIP        string    `json:"source_ip"`
	LogType         string    `json:"log_type"`
	Count           int64     `json:"interaction_count"`
	LastInteraction time.Time `json:"last_interaction"`
}

// Statistics returns counters, optionally restricted to one source.
func (r *LogRepository) Statistics(ctx context.Context, sourceIP string) ([]InteractionStat, error) {
	query := `
		SELECT source_ip, log_type, interaction_count, last_interaction
		FROM interaction_statistics
		WHERE $1 = '' OR source_ip = $1
		ORDER BY source_ip, interaction_count DESC
	`
	rows, err := r.conn.Query(ctx, query, sourceIP)
	if err != nil {
		return nil, fmt.Errorf("failed to query statistics: %w", err)
	}
	defer rows.Close()

	var stats []InteractionStat
	for rows.Next() {
		var s InteractionStat
		if err := rows.Scan(&s.SourceIP, &s.LogType, &s.Count, &s.LastInteraction); err != nil {
			return nil, fmt.Errorf("failed to scan statistics: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Compile-time check.
var _ activity.LogSink = (*LogRepository)(nil)
