package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryDirectory is a process-local directory for development and tests.
type MemoryDirectory struct {
	mu         sync.RWMutex
	byID       map[string]Student
	byExternal map[string]string
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:       make(map[string]Student),
		byExternal: make(map[string]string),
	}
}

func (d *MemoryDirectory) FindByExternalID(_ context.Context, studentID string) (*Student, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byExternal[studentID]
	if !ok {
		return nil, nil
	}
	st := d.byID[id]
	return &st, nil
}

func (d *MemoryDirectory) Create(_ context.Context, st Student) (Student, error) {
	if st.StudentID == "" {
		return Student{}, fmt.Errorf("student id required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.byExternal[st.StudentID]; exists {
		return Student{}, fmt.Errorf("student %s already exists", st.StudentID)
	}
	st.ID = uuid.NewString()
	st.CreatedAt = time.Now().UTC()
	st.UpdatedAt = st.CreatedAt
	d.byID[st.ID] = st
	d.byExternal[st.StudentID] = st.ID
	return st, nil
}

func (d *MemoryDirectory) Update(_ context.Context, id string, patch StudentPatch) (Student, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.byID[id]
	if !ok {
		return Student{}, fmt.Errorf("%w: %s", ErrStudentNotFound, id)
	}
	patch.Apply(&st)
	st.UpdatedAt = time.Now().UTC()
	d.byID[id] = st
	return st, nil
}

func (d *MemoryDirectory) List(_ context.Context) ([]Student, error) {
	d.mu.RLock()
	out := make([]Student, 0, len(d.byID))
	for _, st := range d.byID {
		out = append(out, st)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
