package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/vrlab/classroom-monitor/internal/domain/shared"
	"github.com/vrlab/classroom-monitor/internal/domain/student"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const studentColumns = `id::text, name, ip_address, COALESCE(headset_id, ''),
	COALESCE(classroom_id, ''), COALESCE(avatar, ''), created_at`

// StudentRepository implements student.Repository for PostgreSQL.
type StudentRepository struct {
	conn *Connection
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(conn *Connection) *StudentRepository {
	return &StudentRepository{conn: conn}
}

// ResolveStudentByAddress returns the student registered on the headset
// address, or nil when none is.
func (r *StudentRepository) ResolveStudentByAddress(ctx context.Context, address string) (*student.Student, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, nil
	}

	query := `SELECT ` + studentColumns + ` FROM students WHERE ip_address = $1 LIMIT 1`

	s, err := r.scanStudent(r.conn.QueryRow(ctx, query, address))
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// GetByID returns a student by internal ID.
func (r *StudentRepository) GetByID(ctx context.Context, id string) (*student.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id::text = $1`
	return r.scanStudent(r.conn.QueryRow(ctx, query, id))
}

// List returns registered students ordered by name. An empty classroomID
// lists everyone.
func (r *StudentRepository) List(ctx context.Context, classroomID string) ([]*student.Student, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if classroomID == "" {
		rows, err = r.conn.Query(ctx, `SELECT `+studentColumns+` FROM students ORDER BY name, ip_address`)
	} else {
		rows, err = r.conn.Query(ctx, `SELECT `+studentColumns+` FROM students WHERE classroom_id = $1 ORDER BY name, ip_address`, classroomID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	defer rows.Close()

	var students []*student.Student
	for rows.Next() {
		s, err := r.scanStudent(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate students: %w", err)
	}
	return students, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (r *StudentRepository) scanStudent(row pgx.Row) (*student.Student, error) {
	var (
		s       student.Student
		address string
	)
	err := row.Scan(
		&s.ID,
		&s.Name,
		&address,
		&s.HeadsetID,
		&s.ClassroomID,
		&s.Avatar,
		&s.CreatedAt,
	)
	if IsNoRows(err) {
		return nil, shared.ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan student: %w", err)
	}
	s.Address = student.Address(address)
	return &s, nil
}

// Compile-time check.
var _ student.Repository = (*StudentRepository)(nil)
