package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qrattend/internal/metrics"
)

// CreateInput carries the fields a lecturer supplies when opening a session.
// BaseURL is the scheme and host the access URL is built from.
type CreateInput struct {
	CourseID    string
	CourseName  string
	TeacherID   string
	TeacherName string
	BaseURL     string
}

// Store is the authoritative holder of sessions and their lifecycle.
type Store struct {
	repo  Repository
	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

// NewStore wraps a repository with lifecycle rules.
func NewStore(repo Repository, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		repo:  repo,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// CreateSession opens a new active session.
func (s *Store) CreateSession(ctx context.Context, in CreateInput) (Session, error) {
	courseID := strings.TrimSpace(in.CourseID)
	teacherID := strings.TrimSpace(in.TeacherID)
	if courseID == "" || teacherID == "" {
		return Session{}, fmt.Errorf("%w: courseId and teacherId are required", ErrInvalidInput)
	}

	id := s.newID()
	sess := Session{
		SessionID:   id,
		CourseID:    courseID,
		CourseName:  strings.TrimSpace(in.CourseName),
		TeacherID:   teacherID,
		TeacherName: strings.TrimSpace(in.TeacherName),
		AccessURL:   AccessURL(in.BaseURL, id),
		CreatedAt:   s.now(),
		Status:      StatusActive,
		Attendees:   []Attendance{},
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return Session{}, err
	}

	metrics.SessionsCreated.Inc()
	s.log.Info("session created",
		zap.String("session_id", id),
		zap.String("course_id", courseID),
		zap.String("teacher_id", teacherID))
	return sess, nil
}

// GetSession returns the session with the given id.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		return Session{}, wrapNotFound(err, id)
	}
	return sess, nil
}

// ListActiveSessions returns every session still accepting attendance.
func (s *Store) ListActiveSessions(ctx context.Context) ([]Session, error) {
	return s.repo.ListActive(ctx)
}

// CloseSession stops a session from accepting attendance. Closing an already
// closed session fails with ErrInvalidState and leaves ClosedAt untouched.
func (s *Store) CloseSession(ctx context.Context, id string) (Session, error) {
	sess, err := s.repo.Mutate(ctx, id, func(sess *Session) error {
		if !sess.Active() {
			return fmt.Errorf("%w: session already closed", ErrInvalidState)
		}
		closedAt := s.now()
		sess.Status = StatusClosed
		sess.ClosedAt = &closedAt
		return nil
	})
	if err != nil {
		return Session{}, wrapNotFound(err, id)
	}

	metrics.SessionsClosed.Inc()
	s.log.Info("session closed",
		zap.String("session_id", id),
		zap.Int("attendees", len(sess.Attendees)))
	return sess, nil
}

// Mutate exposes the repository's per-session critical section.
func (s *Store) Mutate(ctx context.Context, id string, fn func(*Session) error) (Session, error) {
	sess, err := s.repo.Mutate(ctx, id, fn)
	if err != nil {
		return Session{}, wrapNotFound(err, id)
	}
	return sess, nil
}

// Now returns the store's clock reading.
func (s *Store) Now() time.Time { return s.now() }

// AccessURL builds the scan locator students open to mark attendance.
func AccessURL(base, id string) string {
	return strings.TrimRight(base, "/") + "/scan?sessionId=" + url.QueryEscape(id)
}

func wrapNotFound(err error, id string) error {
	// Repositories return the bare sentinel; attach the id once.
	if err == ErrNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}
