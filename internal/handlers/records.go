package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/liveclass/internal/moderation"
	"github.com/charlesng35/liveclass/internal/policy"
	"github.com/charlesng35/liveclass/internal/services"
	"github.com/charlesng35/liveclass/pkg/errors"
	"github.com/charlesng35/liveclass/pkg/response"
)

// RecordsHandler serves attendance, per-teacher counts and the violation audit trail.
type RecordsHandler struct {
	sessions   *SessionHandler
	attendance *services.AttendanceService
	violations *services.ViolationService
}

func NewRecordsHandler(sessions *SessionHandler, attendance *services.AttendanceService, violations *services.ViolationService) (*RecordsHandler, error) {
	if sessions == nil || attendance == nil || violations == nil {
		return nil, fmt.Errorf("records handler: sessions, attendance and violations are required")
	}
	return &RecordsHandler{sessions: sessions, attendance: attendance, violations: violations}, nil
}

// GET /api/sessions/:id/attendance
func (h *RecordsHandler) Attendance(c *gin.Context) {
	_, session, ok := h.sessions.loadAuthorized(c, policy.ActionViewRecords)
	if !ok {
		return
	}
	withHidden, _ := strconv.ParseBool(c.DefaultQuery("include_hidden", "false"))

	records, err := h.attendance.List(requestContext(c), session.ID, withHidden)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, records, &response.Meta{Total: int64(len(records))})
}

// GET /api/teachers/:id/sessions/count?day=YYYY-MM-DD
func (h *RecordsHandler) TeacherSessionCount(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	teacherID := strings.TrimSpace(c.Param("id"))
	if teacherID != claims.UserID {
		response.Error(c, errors.ErrForbidden.WithMessage("teachers may only query their own sessions"))
		return
	}

	day, err := parseDayQuery(c, "day", h.sessions.sessions.Now())
	if err != nil {
		response.Error(c, err)
		return
	}

	count, err := h.sessions.sessions.LiveSessionsOn(requestContext(c), teacherID, day)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"teacher_id": teacherID,
		"day":        day.UTC().Format(dayLayout),
		"count":      count,
	})
}

type violationRequest struct {
	DisplayName     string              `json:"display_name" validate:"max=255"`
	Role            string              `json:"role" validate:"max=32"`
	OffendingText   string              `json:"offending_text" validate:"required,notblank"`
	MatchedPatterns []string            `json:"matched_patterns"`
	Severity        moderation.Severity `json:"severity"`
	OccurredAt      time.Time           `json:"occurred_at"`
}

// POST /api/sessions/:id/violations
func (h *RecordsHandler) ReportViolation(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	session, err := h.sessions.sessions.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	var req violationRequest
	if !bindAndValidate(c, &req) {
		return
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = string(callerRole(claims))
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = claims.Name
	}

	record, created, err := h.violations.Record(requestContext(c), moderation.ViolationReport{
		SessionID:       session.ID,
		ParticipantID:   claims.UserID,
		DisplayName:     name,
		Role:            role,
		OffendingText:   req.OffendingText,
		MatchedPatterns: req.MatchedPatterns,
		Severity:        req.Severity,
		OccurredAt:      req.OccurredAt,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, record)
}

// GET /api/sessions/:id/violations
func (h *RecordsHandler) Violations(c *gin.Context) {
	_, session, ok := h.sessions.loadAuthorized(c, policy.ActionViewRecords)
	if !ok {
		return
	}
	records, err := h.violations.List(requestContext(c), session.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, records, &response.Meta{Total: int64(len(records))})
}
