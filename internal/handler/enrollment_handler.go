package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/class-scheduler-api/internal/middleware"
	"github.com/noah-isme/class-scheduler-api/internal/models"
	"github.com/noah-isme/class-scheduler-api/internal/service"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
	"github.com/noah-isme/class-scheduler-api/pkg/response"
)

type enrollmentEngine interface {
	ScheduleClass(ctx context.Context, req service.ScheduleClassRequest) (*models.Enrollment, error)
	StudentDropClass(ctx context.Context, req service.DropClassRequest) (*service.DropClassResult, error)
	DropOffering(ctx context.Context, req service.DropOfferingRequest) ([]models.AffectedEnrollment, error)
	WithdrawStudent(ctx context.Context, studentID string) (*service.WithdrawResult, error)
}

// EnrollmentHandler exposes the enrollment workflows.
type EnrollmentHandler struct {
	enrollments enrollmentEngine
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentEngine) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// Schedule godoc
// @Summary Schedule a student into a class offering
// @Description Scheduled when a seat is free, waitlisted otherwise.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.ScheduleClassRequest true "Schedule payload"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Schedule(c *gin.Context) {
	var req service.ScheduleClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid payload"))
		return
	}
	enrollment, err := h.enrollments.ScheduleClass(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Drop godoc
// @Summary Drop a student's enrollment
// @Tags Enrollments
// @Produce json
// @Param semesterId path string true "Semester ID"
// @Param courseCode path string true "Course code"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /semesters/{semesterId}/offerings/{courseCode}/enrollments/{studentId} [delete]
func (h *EnrollmentHandler) Drop(c *gin.Context) {
	result, err := h.enrollments.StudentDropClass(c.Request.Context(), service.DropClassRequest{
		SemesterID: c.Param("semesterId"),
		StudentID:  c.Param("studentId"),
		CourseCode: c.Param("courseCode"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// CancelOffering godoc
// @Summary Cancel a class offering
// @Description Removes the offering and every enrollment in it. Nobody is promoted.
// @Tags Offerings
// @Produce json
// @Param semesterId path string true "Semester ID"
// @Param courseCode path string true "Course code"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /semesters/{semesterId}/offerings/{courseCode} [delete]
func (h *EnrollmentHandler) CancelOffering(c *gin.Context) {
	affected, err := h.enrollments.DropOffering(c.Request.Context(), service.DropOfferingRequest{
		SemesterID: c.Param("semesterId"),
		CourseCode: c.Param("courseCode"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "affected", len(affected))
	response.JSON(c, http.StatusOK, affected, middleware.ExtractMeta(c))
}

// Withdraw godoc
// @Summary Withdraw a student
// @Description Deletes the student and all of their enrollments, promoting waitlisted students into freed seats.
// @Tags Students
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{studentId} [delete]
func (h *EnrollmentHandler) Withdraw(c *gin.Context) {
	result, err := h.enrollments.WithdrawStudent(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "removed", len(result.Removed))
	middleware.SetMeta(c, "promoted", len(result.Promoted))
	response.JSON(c, http.StatusOK, result, middleware.ExtractMeta(c))
}
