package student

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrlab/classroom-monitor/internal/domain/shared"
)

func TestAddress_IsValid(t *testing.T) {
	tests := []struct {
		addr Address
		want bool
	}{
		{"10.0.0.5", true},
		{"fe80::1", true},
		{"quest-07.lab", true},
		{"", false},
		{"   ", false},
		{"10.0.0.5 10.0.0.6", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.addr), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.addr.IsValid())
		})
	}
}

func TestNewStudent(t *testing.T) {
	s, err := NewStudent(NewStudentParams{ID: "s-1", Name: "  Ana ", Address: " 10.0.0.5 "})
	require.NoError(t, err)
	assert.Equal(t, "Ana", s.Name)
	assert.Equal(t, Address("10.0.0.5"), s.Address)
	assert.Equal(t, "Ana", s.DisplayName())

	_, err = NewStudent(NewStudentParams{Name: "Ana", Address: "10.0.0.5"})
	assert.True(t, shared.IsValidation(err))

	_, err = NewStudent(NewStudentParams{ID: "s-1", Address: "10.0.0.5"})
	assert.True(t, shared.IsValidation(err))

	_, err = NewStudent(NewStudentParams{ID: "s-1", Name: "Ana", Address: ""})
	assert.True(t, shared.IsValidation(err))
}

func TestDisplayName_FallsBackToAddress(t *testing.T) {
	s := &Student{ID: "s-2", Address: "10.0.0.9"}
	assert.Equal(t, "10.0.0.9", s.DisplayName())
}
