package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"qrattend/internal/metrics"
	"qrattend/internal/session"
)

// MarkInput is one student's attendance submission.
type MarkInput struct {
	StudentID    string
	StudentName  string
	StudentEmail string
	StudentPhone string
}

func (in MarkInput) normalized() MarkInput {
	return MarkInput{
		StudentID:    strings.TrimSpace(in.StudentID),
		StudentName:  strings.TrimSpace(in.StudentName),
		StudentEmail: strings.TrimSpace(in.StudentEmail),
		StudentPhone: strings.TrimSpace(in.StudentPhone),
	}
}

// Report is a read-only projection of a session's attendance.
type Report struct {
	SessionID      string               `json:"sessionId"`
	CourseID       string               `json:"courseId"`
	CourseName     string               `json:"courseName"`
	TotalAttendees int                  `json:"totalAttendees"`
	Attendees      []session.Attendance `json:"attendees"`
	CreatedAt      time.Time            `json:"createdAt"`
	ClosedAt       *time.Time           `json:"closedAt"`
}

// Recorder validates attendance submissions and applies them to sessions.
type Recorder struct {
	sessions   *session.Store
	reconciler Reconciler
	log        *zap.Logger
}

// NewRecorder creates a recorder. A nil reconciler disables directory updates.
func NewRecorder(sessions *session.Store, reconciler Reconciler, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	if reconciler == nil {
		reconciler = noopReconciler{}
	}
	return &Recorder{sessions: sessions, reconciler: reconciler, log: log}
}

// MarkAttendance records a student's presence in an active session.
//
// The status check, duplicate check and append run as one unit under the
// session's lock, so concurrent marks for the same student yield exactly one
// record. Directory reconciliation runs after the mark is committed and its
// failures never reach the caller.
func (r *Recorder) MarkAttendance(ctx context.Context, sessionID string, in MarkInput) (session.Attendance, error) {
	sessionID = strings.TrimSpace(sessionID)
	in = in.normalized()

	if sessionID == "" {
		return session.Attendance{}, r.reject(fmt.Errorf("%w: sessionId is required", session.ErrInvalidInput))
	}
	if in.StudentID == "" && in.StudentName == "" {
		return session.Attendance{}, r.reject(fmt.Errorf("%w: studentId or studentName is required", session.ErrInvalidInput))
	}

	var rec session.Attendance
	_, err := r.sessions.Mutate(ctx, sessionID, func(s *session.Session) error {
		if !s.Active() {
			return fmt.Errorf("%w: session no longer accepting attendance", session.ErrInvalidState)
		}
		if alreadyMarked(s.Attendees, in) {
			return fmt.Errorf("%w: student already marked as present in this session", session.ErrConflict)
		}
		rec = session.Attendance{
			StudentID:    in.StudentID,
			StudentName:  in.StudentName,
			StudentEmail: in.StudentEmail,
			StudentPhone: in.StudentPhone,
			MarkedAt:     r.sessions.Now(),
		}
		s.Attendees = append(s.Attendees, rec)
		return nil
	})
	if err != nil {
		return session.Attendance{}, r.reject(err)
	}

	metrics.AttendanceMarked.Inc()
	r.log.Info("attendance marked",
		zap.String("session_id", sessionID),
		zap.String("student_id", rec.StudentID),
		zap.String("student_name", rec.StudentName))

	if rec.StudentID == "" {
		r.log.Debug("skipping directory reconciliation for name-only mark",
			zap.String("session_id", sessionID))
		return rec, nil
	}
	r.reconciler.Dispatch(ctx, StudentUpsert{
		StudentID: rec.StudentID,
		Name:      rec.StudentName,
		Email:     rec.StudentEmail,
		Phone:     rec.StudentPhone,
	})
	return rec, nil
}

// Report returns the attendance report for a session in any state.
func (r *Recorder) Report(ctx context.Context, sessionID string) (Report, error) {
	s, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return Report{}, err
	}
	return Report{
		SessionID:      s.SessionID,
		CourseID:       s.CourseID,
		CourseName:     s.CourseName,
		TotalAttendees: len(s.Attendees),
		Attendees:      s.Attendees,
		CreatedAt:      s.CreatedAt,
		ClosedAt:       s.ClosedAt,
	}, nil
}

// alreadyMarked reports a duplicate by studentId, or by case-folded name when
// the submission and the existing record both lack a studentId.
func alreadyMarked(attendees []session.Attendance, in MarkInput) bool {
	for _, a := range attendees {
		if in.StudentID != "" {
			if a.StudentID == in.StudentID {
				return true
			}
			continue
		}
		if a.StudentID == "" && strings.EqualFold(a.StudentName, in.StudentName) {
			return true
		}
	}
	return false
}

func (r *Recorder) reject(err error) error {
	metrics.AttendanceRejected.WithLabelValues(Reason(err)).Inc()
	return err
}

// Reason names the error kind for metrics and API responses.
func Reason(err error) string {
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, session.ErrNotFound):
		return "not_found"
	case errors.Is(err, session.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, session.ErrConflict):
		return "conflict"
	default:
		return "internal_error"
	}
}
