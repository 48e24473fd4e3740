package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Dialect selects placeholder and column-type flavour.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const studentColumns = `id, student_id, name, email, phone, created_at, updated_at`

// SQLDirectory persists students through database/sql. Queries are written
// with ? placeholders and rebound to $n for Postgres.
type SQLDirectory struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLDirectory creates a directory over an open database handle.
func NewSQLDirectory(db *sql.DB, dialect Dialect) *SQLDirectory {
	if dialect == "" {
		dialect = DialectPostgres
	}
	return &SQLDirectory{db: db, dialect: dialect}
}

// EnsureSchema creates the students table when missing.
func (d *SQLDirectory) EnsureSchema(ctx context.Context) error {
	tsType := "TIMESTAMPTZ"
	if d.dialect == DialectSQLite {
		tsType = "TIMESTAMP"
	}
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS students (
			id          TEXT PRIMARY KEY,
			student_id  TEXT UNIQUE NOT NULL,
			name        TEXT NOT NULL DEFAULT '',
			email       TEXT NOT NULL DEFAULT '',
			phone       TEXT NOT NULL DEFAULT '',
			created_at  `+tsType+` NOT NULL,
			updated_at  `+tsType+` NOT NULL
		)`)
	return err
}

// FindByExternalID returns the student with the given external id, or nil.
func (d *SQLDirectory) FindByExternalID(ctx context.Context, studentID string) (*Student, error) {
	st, err := d.scanOne(ctx, `SELECT `+studentColumns+` FROM students WHERE student_id = ?`, studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Create inserts a new student.
func (d *SQLDirectory) Create(ctx context.Context, st Student) (Student, error) {
	if st.StudentID == "" {
		return Student{}, errors.New("student id required")
	}
	st.ID = uuid.NewString()
	st.CreatedAt = time.Now().UTC()
	st.UpdatedAt = st.CreatedAt
	_, err := d.db.ExecContext(ctx, d.rebind(`
		INSERT INTO students (`+studentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), st.ID, st.StudentID, st.Name, st.Email, st.Phone, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return Student{}, fmt.Errorf("insert student %s: %w", st.StudentID, err)
	}
	return st, nil
}

// Update applies patch to the student with internal id.
func (d *SQLDirectory) Update(ctx context.Context, id string, patch StudentPatch) (Student, error) {
	st, err := d.scanOne(ctx, `SELECT `+studentColumns+` FROM students WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Student{}, fmt.Errorf("%w: %s", ErrStudentNotFound, id)
	}
	if err != nil {
		return Student{}, err
	}
	patch.Apply(&st)
	st.UpdatedAt = time.Now().UTC()
	_, err = d.db.ExecContext(ctx, d.rebind(`
		UPDATE students
		SET name = ?, email = ?, phone = ?, updated_at = ?
		WHERE id = ?
	`), st.Name, st.Email, st.Phone, st.UpdatedAt, st.ID)
	if err != nil {
		return Student{}, fmt.Errorf("update student %s: %w", id, err)
	}
	return st, nil
}

// List returns all students, oldest first.
func (d *SQLDirectory) List(ctx context.Context) ([]Student, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+studentColumns+` FROM students ORDER BY created_at, student_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	students := []Student{}
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.StudentID, &st.Name, &st.Email, &st.Phone, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

func (d *SQLDirectory) scanOne(ctx context.Context, query string, arg any) (Student, error) {
	var st Student
	err := d.db.QueryRowContext(ctx, d.rebind(query), arg).
		Scan(&st.ID, &st.StudentID, &st.Name, &st.Email, &st.Phone, &st.CreatedAt, &st.UpdatedAt)
	return st, err
}

// rebind rewrites ? placeholders to $1..$n for Postgres.
func (d *SQLDirectory) rebind(query string) string {
	if d.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
