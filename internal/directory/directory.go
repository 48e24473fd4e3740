// Package directory is the Student Directory: persistent student profiles that
// attendance marks are reconciled against. Lookups are keyed by the external
// student id that students type when scanning.
package directory

import (
	"context"
	"errors"
	"time"
)

// ErrStudentNotFound is returned by Update when the internal id is unknown.
var ErrStudentNotFound = errors.New("student not found")

// Student is a directory profile.
type Student struct {
	ID        string    `json:"id"`
	StudentID string    `json:"studentId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StudentPatch holds the fields to overwrite; nil leaves a field unchanged.
type StudentPatch struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

// Apply overwrites the non-nil fields of st.
func (p StudentPatch) Apply(st *Student) {
	if p.Name != nil {
		st.Name = *p.Name
	}
	if p.Email != nil {
		st.Email = *p.Email
	}
	if p.Phone != nil {
		st.Phone = *p.Phone
	}
}

// Directory is the contract consumed by the attendance recorder.
type Directory interface {
	// FindByExternalID returns nil, nil when no student has that id.
	FindByExternalID(ctx context.Context, studentID string) (*Student, error)
	Create(ctx context.Context, st Student) (Student, error)
	Update(ctx context.Context, id string, patch StudentPatch) (Student, error)
	List(ctx context.Context) ([]Student, error)
}
