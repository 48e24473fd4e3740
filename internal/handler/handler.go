package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"qrattend/internal/attendance"
	"qrattend/internal/directory"
	"qrattend/internal/session"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Handler serves the session and attendance API.
type Handler struct {
	sessions *session.Store
	recorder *attendance.Recorder
	dir      directory.Directory // nil if no directory is configured
	baseURL  string              // overrides the request host when set
	checks   map[string]HealthCheck
	log      *zap.Logger
}

// New creates a handler.
func New(sessions *session.Store, recorder *attendance.Recorder, dir directory.Directory, baseURL string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		sessions: sessions,
		recorder: recorder,
		dir:      dir,
		baseURL:  strings.TrimRight(baseURL, "/"),
		checks:   make(map[string]HealthCheck),
		log:      log,
	}
}

// AddHealthCheck registers a dependency probe reported by /healthz.
func (h *Handler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// Register mounts the API routes on r, both at the root and under /api.
// markLimits run in front of attendance submissions only.
func (h *Handler) Register(r gin.IRouter, markLimits ...gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)
	h.routes(r, markLimits)
	h.routes(r.Group("/api"), markLimits)
}

func (h *Handler) routes(r gin.IRouter, markLimits []gin.HandlerFunc) {
	mark := append(append([]gin.HandlerFunc{}, markLimits...), h.MarkAttendance)

	r.POST("/sessions", h.CreateSession)
	r.GET("/sessions", h.ListSessions)
	r.GET("/sessions/:sessionId", h.GetSession)
	r.PATCH("/sessions/:sessionId/close", h.CloseSession)
	r.POST("/sessions/:sessionId/attendance", mark...)
	r.GET("/sessions/:sessionId/attendance", h.GetSessionAttendance)
	r.GET("/students", h.ListStudents)
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range h.checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Sessions ----------

type createSessionRequest struct {
	CourseID    string `json:"courseId"`
	CourseName  string `json:"courseName"`
	TeacherID   string `json:"teacherId"`
	TeacherName string `json:"teacherName"`
}

// CreateSession opens a session and returns the URL students scan.
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	sess, err := h.sessions.CreateSession(c.Request.Context(), session.CreateInput{
		CourseID:    req.CourseID,
		CourseName:  req.CourseName,
		TeacherID:   req.TeacherID,
		TeacherName: req.TeacherName,
		BaseURL:     h.requestBaseURL(c),
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"sessionId": sess.SessionID,
		"accessUrl": sess.AccessURL,
		"message":   "Session created successfully. Share this code with students.",
	})
}

func (h *Handler) GetSession(c *gin.Context) {
	sess, err := h.sessions.GetSession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// ListSessions returns active sessions only.
func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.sessions.ListActiveSessions(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *Handler) CloseSession(c *gin.Context) {
	sess, err := h.sessions.CloseSession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Session closed successfully",
		"session": sess,
	})
}

// ---------- Attendance ----------

type markAttendanceRequest struct {
	StudentID    string `json:"studentId"`
	StudentName  string `json:"studentName"`
	StudentEmail string `json:"studentEmail"`
	StudentPhone string `json:"studentPhone"`
}

// MarkAttendance records a scan from a student.
func (h *Handler) MarkAttendance(c *gin.Context) {
	var req markAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	rec, err := h.recorder.MarkAttendance(c.Request.Context(), c.Param("sessionId"), attendance.MarkInput{
		StudentID:    req.StudentID,
		StudentName:  req.StudentName,
		StudentEmail: req.StudentEmail,
		StudentPhone: req.StudentPhone,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":    "Attendance marked successfully",
		"attendance": rec,
	})
}

func (h *Handler) GetSessionAttendance(c *gin.Context) {
	report, err := h.recorder.Report(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ---------- Students ----------

func (h *Handler) ListStudents(c *gin.Context) {
	if h.dir == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "student directory not configured", "type": "unavailable"})
		return
	}
	students, err := h.dir.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, students)
}

// ---------- helpers ----------

// requestBaseURL is the configured public URL, or scheme://host of the request.
func (h *Handler) requestBaseURL(c *gin.Context) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	return scheme + "://" + c.Request.Host
}

func (h *Handler) fail(c *gin.Context, err error) {
	reason := attendance.Reason(err)
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"message": "internal server error", "type": reason})
		return
	}
	c.JSON(status, gin.H{"message": err.Error(), "type": reason})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidState), errors.Is(err, session.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"message": msg, "type": "invalid_input"})
}
