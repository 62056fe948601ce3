package student

import (
	"net"
	"strings"
	"time"

	"github.com/vrlab/classroom-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Address - сетевой адрес гарнитуры студента (IP), ключ источника событий.
type Address string

// IsValid проверяет, что адрес не пустой и похож на IP или hostname.
func (a Address) IsValid() bool {
	s := strings.TrimSpace(string(a))
	if s == "" || strings.ContainsAny(s, " \t\n\r") {
		return false
	}
	if net.ParseIP(s) != nil {
		return true
	}
	return len(s) <= 253
}

// String возвращает строковое представление адреса.
func (a Address) String() string {
	return string(a)
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: STUDENT
// ══════════════════════════════════════════════════════════════════════════════

// Student - студент, зарегистрированный в классе вместе со своей гарнитурой.
type Student struct {
	// ID - внутренний уникальный идентификатор (UUID в строковом формате).
	ID string

	// Name - отображаемое имя.
	Name string

	// Address - IP-адрес гарнитуры; по нему приходят события.
	Address Address

	// HeadsetID - серийный номер гарнитуры (может быть пустым).
	HeadsetID string

	// ClassroomID - класс, к которому привязан студент (может быть пустым).
	ClassroomID string

	// Avatar - ссылка на аватар (может быть пустой).
	Avatar string

	// CreatedAt - время создания записи.
	CreatedAt time.Time
}

// NewStudentParams - параметры для создания студента.
type NewStudentParams struct {
	ID          string
	Name        string
	Address     string
	HeadsetID   string
	ClassroomID string
	Avatar      string
	CreatedAt   time.Time
}

// NewStudent создаёт студента с валидацией.
func NewStudent(params NewStudentParams) (*Student, error) {
	if strings.TrimSpace(params.ID) == "" {
		return nil, shared.NewDomainError("student", "New", shared.ErrEmptyValue, "student id cannot be empty")
	}
	if strings.TrimSpace(params.Name) == "" {
		return nil, shared.NewDomainError("student", "New", shared.ErrEmptyValue, "student name cannot be empty")
	}
	addr := Address(strings.TrimSpace(params.Address))
	if !addr.IsValid() {
		return nil, shared.NewDomainError("student", "New", shared.ErrInvalidFormat, "invalid headset address")
	}

	return &Student{
		ID:          params.ID,
		Name:        strings.TrimSpace(params.Name),
		Address:     addr,
		HeadsetID:   params.HeadsetID,
		ClassroomID: params.ClassroomID,
		Avatar:      params.Avatar,
		CreatedAt:   params.CreatedAt,
	}, nil
}

// DisplayName возвращает имя для объявлений; при пустом имени - адрес.
func (s *Student) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Address.String()
}
