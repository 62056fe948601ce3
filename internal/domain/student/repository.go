package student

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем данных.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Resolver сопоставляет сетевой адрес с зарегистрированным студентом.
type Resolver interface {
	// ResolveStudentByAddress возвращает студента по адресу гарнитуры.
	// Возвращает (nil, nil), если никто не зарегистрирован на этот адрес.
	ResolveStudentByAddress(ctx context.Context, address string) (*Student, error)
}

// Repository - чтение реестра студентов.
type Repository interface {
	Resolver

	// GetByID возвращает студента по внутреннему ID.
	// Возвращает shared.ErrStudentNotFound, если студент не найден.
	GetByID(ctx context.Context, id string) (*Student, error)

	// List возвращает студентов; пустой classroomID означает всех.
	List(ctx context.Context, classroomID string) ([]*Student, error)
}
