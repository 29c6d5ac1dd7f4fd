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

type catalogService interface {
	CreateSemester(ctx context.Context, req service.CreateSemesterRequest) (*models.Semester, error)
	GetSemester(ctx context.Context, id string) (*models.Semester, error)
	CreateCourse(ctx context.Context, req service.CreateCourseRequest) (*models.Course, error)
	GetCourse(ctx context.Context, code string) (*models.Course, error)
	CreateOffering(ctx context.Context, req service.CreateOfferingRequest) (*models.ClassOffering, error)
	GetOffering(ctx context.Context, semesterID, courseCode string) (*models.ClassOffering, error)
	CreateStudent(ctx context.Context, req service.CreateStudentRequest) (*models.Student, error)
	GetStudent(ctx context.Context, id string) (*models.Student, error)
}

// CatalogHandler exposes semester, course, offering and student records.
type CatalogHandler struct {
	catalog catalogService
}

// NewCatalogHandler constructs CatalogHandler.
func NewCatalogHandler(catalog catalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid payload"))
		return false
	}
	return true
}

func respond(c *gin.Context, status int, data interface{}, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, status, data, middleware.ExtractMeta(c))
}

// CreateSemester godoc
// @Summary Create semester
// @Tags Semesters
// @Accept json
// @Produce json
// @Param payload body service.CreateSemesterRequest true "Semester payload"
// @Success 201 {object} response.Envelope
// @Router /semesters [post]
func (h *CatalogHandler) CreateSemester(c *gin.Context) {
	var req service.CreateSemesterRequest
	if !bindJSON(c, &req) {
		return
	}
	semester, err := h.catalog.CreateSemester(c.Request.Context(), req)
	respond(c, http.StatusCreated, semester, err)
}

// GetSemester godoc
// @Summary Get semester
// @Tags Semesters
// @Produce json
// @Param semesterId path string true "Semester ID"
// @Success 200 {object} response.Envelope
// @Router /semesters/{semesterId} [get]
func (h *CatalogHandler) GetSemester(c *gin.Context) {
	semester, err := h.catalog.GetSemester(c.Request.Context(), c.Param("semesterId"))
	respond(c, http.StatusOK, semester, err)
}

// CreateCourse godoc
// @Summary Create course
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body service.CreateCourseRequest true "Course payload"
// @Success 201 {object} response.Envelope
// @Router /courses [post]
func (h *CatalogHandler) CreateCourse(c *gin.Context) {
	var req service.CreateCourseRequest
	if !bindJSON(c, &req) {
		return
	}
	course, err := h.catalog.CreateCourse(c.Request.Context(), req)
	respond(c, http.StatusCreated, course, err)
}

// GetCourse godoc
// @Summary Get course
// @Tags Courses
// @Produce json
// @Param courseCode path string true "Course code"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseCode} [get]
func (h *CatalogHandler) GetCourse(c *gin.Context) {
	course, err := h.catalog.GetCourse(c.Request.Context(), c.Param("courseCode"))
	respond(c, http.StatusOK, course, err)
}

// CreateOffering godoc
// @Summary Create class offering
// @Tags Offerings
// @Accept json
// @Produce json
// @Param payload body service.CreateOfferingRequest true "Offering payload"
// @Success 201 {object} response.Envelope
// @Router /offerings [post]
func (h *CatalogHandler) CreateOffering(c *gin.Context) {
	var req service.CreateOfferingRequest
	if !bindJSON(c, &req) {
		return
	}
	offering, err := h.catalog.CreateOffering(c.Request.Context(), req)
	respond(c, http.StatusCreated, offering, err)
}

// GetOffering godoc
// @Summary Get class offering
// @Tags Offerings
// @Produce json
// @Param semesterId path string true "Semester ID"
// @Param courseCode path string true "Course code"
// @Success 200 {object} response.Envelope
// @Router /semesters/{semesterId}/offerings/{courseCode} [get]
func (h *CatalogHandler) GetOffering(c *gin.Context) {
	offering, err := h.catalog.GetOffering(c.Request.Context(), c.Param("semesterId"), c.Param("courseCode"))
	respond(c, http.StatusOK, offering, err)
}

// CreateStudent godoc
// @Summary Create student
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body service.CreateStudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Router /students [post]
func (h *CatalogHandler) CreateStudent(c *gin.Context) {
	var req service.CreateStudentRequest
	if !bindJSON(c, &req) {
		return
	}
	student, err := h.catalog.CreateStudent(c.Request.Context(), req)
	respond(c, http.StatusCreated, student, err)
}

// GetStudent godoc
// @Summary Get student
// @Tags Students
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId} [get]
func (h *CatalogHandler) GetStudent(c *gin.Context) {
	student, err := h.catalog.GetStudent(c.Request.Context(), c.Param("studentId"))
	respond(c, http.StatusOK, student, err)
}
