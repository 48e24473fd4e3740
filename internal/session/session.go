package session

import (
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Attendance is one student's accepted presence mark.
type Attendance struct {
	StudentID    string    `json:"studentId"`
	StudentName  string    `json:"studentName"`
	StudentEmail string    `json:"studentEmail,omitempty"`
	StudentPhone string    `json:"studentPhone,omitempty"`
	MarkedAt     time.Time `json:"markedAt"`
}

// Session is an attendance window for one course, opened by one lecturer.
type Session struct {
	SessionID   string       `json:"sessionId"`
	CourseID    string       `json:"courseId"`
	CourseName  string       `json:"courseName"`
	TeacherID   string       `json:"teacherId"`
	TeacherName string       `json:"teacherName"`
	AccessURL   string       `json:"accessUrl"`
	CreatedAt   time.Time    `json:"createdAt"`
	Status      Status       `json:"status"`
	ClosedAt    *time.Time   `json:"closedAt,omitempty"`
	Attendees   []Attendance `json:"attendees"`
}

// Active reports whether the session still accepts attendance.
func (s Session) Active() bool { return s.Status == StatusActive }

// Clone returns a deep copy so stored state is never aliased by callers.
func (s Session) Clone() Session {
	out := s
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		out.ClosedAt = &t
	}
	out.Attendees = make([]Attendance, len(s.Attendees))
	copy(out.Attendees, s.Attendees)
	return out
}
