package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	"github.com/noah-isme/class-scheduler-api/internal/repository"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

type semesterRepository interface {
	Create(ctx context.Context, semester *models.Semester) error
	FindByID(ctx context.Context, id string) (*models.Semester, error)
}

type courseRepository interface {
	Create(ctx context.Context, course *models.Course) error
	FindByCode(ctx context.Context, code string) (*models.Course, error)
}

type offeringRepository interface {
	Create(ctx context.Context, offering *models.ClassOffering) error
	Find(ctx context.Context, semesterID, courseCode string) (*models.ClassOffering, error)
}

type studentRepository interface {
	Create(ctx context.Context, student *models.Student) error
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

// CreateSemesterRequest registers a semester.
type CreateSemesterRequest struct {
	ID string `json:"id" validate:"required,max=64"`
}

// CreateCourseRequest registers a catalog course.
type CreateCourseRequest struct {
	Code        string `json:"code" validate:"required,max=64"`
	Description string `json:"description" validate:"required,max=255"`
}

// CreateOfferingRequest opens a course in a semester with a seat capacity.
type CreateOfferingRequest struct {
	SemesterID string `json:"semester_id" validate:"required,max=64"`
	CourseCode string `json:"course_code" validate:"required,max=64"`
	Capacity   int    `json:"capacity" validate:"gte=0"`
}

// CreateStudentRequest registers a student.
type CreateStudentRequest struct {
	ID        string `json:"id" validate:"required,max=64"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
}

// CatalogService manages semesters, courses, offerings and students.
// Lookups are served through the cache when it is enabled.
type CatalogService struct {
	semesters semesterRepository
	courses   courseRepository
	offerings offeringRepository
	students  studentRepository
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCatalogService constructs CatalogService. cache may be nil.
func NewCatalogService(semesters semesterRepository, courses courseRepository, offerings offeringRepository, students studentRepository, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *CatalogService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{
		semesters: semesters,
		courses:   courses,
		offerings: offerings,
		students:  students,
		cache:     cache,
		validator: validate,
		logger:    logger,
	}
}

func semesterCacheKey(id string) string { return "semester:" + id }
func courseCacheKey(code string) string { return "course:" + code }
func studentCacheKey(id string) string  { return "student:" + id }
func offeringCacheKey(key models.OfferingKey) string {
	return "offering:" + key.SemesterID + ":" + key.CourseCode
}

// CreateSemester registers a semester.
func (s *CatalogService) CreateSemester(ctx context.Context, req CreateSemesterRequest) (*models.Semester, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid semester payload")
	}
	semester := &models.Semester{ID: req.ID}
	if err := s.semesters.Create(ctx, semester); err != nil {
		return nil, createError(err, "semester already exists", "failed to create semester")
	}
	return semester, nil
}

// GetSemester returns a semester.
func (s *CatalogService) GetSemester(ctx context.Context, id string) (*models.Semester, error) {
	return readThrough(ctx, s, semesterCacheKey(id), "semester not found", func() (*models.Semester, error) {
		return s.semesters.FindByID(ctx, id)
	})
}

// CreateCourse registers a catalog course.
func (s *CatalogService) CreateCourse(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid course payload")
	}
	course := &models.Course{Code: req.Code, Description: req.Description}
	if err := s.courses.Create(ctx, course); err != nil {
		return nil, createError(err, "course already exists", "failed to create course")
	}
	return course, nil
}

// GetCourse returns a course with its description.
func (s *CatalogService) GetCourse(ctx context.Context, code string) (*models.Course, error) {
	return readThrough(ctx, s, courseCacheKey(code), "course not found", func() (*models.Course, error) {
		return s.courses.FindByCode(ctx, code)
	})
}

// CreateOffering opens a course in a semester.
func (s *CatalogService) CreateOffering(ctx context.Context, req CreateOfferingRequest) (*models.ClassOffering, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid offering payload")
	}
	offering := &models.ClassOffering{SemesterID: req.SemesterID, CourseCode: req.CourseCode, Capacity: req.Capacity}
	if err := s.offerings.Create(ctx, offering); err != nil {
		if errors.Is(err, repository.ErrForeignKey) {
			return nil, appErrors.WrapAs(err, appErrors.ErrNotFound, "semester or course not found")
		}
		return nil, createError(err, "class offering already exists", "failed to create class offering")
	}
	s.cache.Store(ctx, offeringCacheKey(offering.Key()), offering)
	return offering, nil
}

// GetOffering returns an offering with its capacity.
func (s *CatalogService) GetOffering(ctx context.Context, semesterID, courseCode string) (*models.ClassOffering, error) {
	return readThrough(ctx, s, offeringCacheKey(models.OfferingKey{SemesterID: semesterID, CourseCode: courseCode}), "class offering not found", func() (*models.ClassOffering, error) {
		return s.offerings.Find(ctx, semesterID, courseCode)
	})
}

// CreateStudent registers a student.
func (s *CatalogService) CreateStudent(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid student payload")
	}
	student := &models.Student{ID: req.ID, FirstName: req.FirstName, LastName: req.LastName}
	if err := s.students.Create(ctx, student); err != nil {
		return nil, createError(err, "student already exists", "failed to create student")
	}
	return student, nil
}

// GetStudent returns a student.
func (s *CatalogService) GetStudent(ctx context.Context, id string) (*models.Student, error) {
	return readThrough(ctx, s, studentCacheKey(id), "student not found", func() (*models.Student, error) {
		return s.students.FindByID(ctx, id)
	})
}

// ForgetOffering drops a cancelled offering from the cache.
func (s *CatalogService) ForgetOffering(ctx context.Context, semesterID, courseCode string) {
	s.cache.Forget(ctx, offeringCacheKey(models.OfferingKey{SemesterID: semesterID, CourseCode: courseCode}))
}

// ForgetStudent drops a withdrawn student from the cache.
func (s *CatalogService) ForgetStudent(ctx context.Context, studentID string) {
	s.cache.Forget(ctx, studentCacheKey(studentID))
}

// readThrough serves a lookup from the cache, or from load on a miss and then
// fills the cache. Cache failures only degrade to the store.
func readThrough[T any](ctx context.Context, s *CatalogService, key, notFound string, load func() (*T, error)) (*T, error) {
	var cached T
	if s.cache.Lookup(ctx, key, &cached) {
		return &cached, nil
	}

	value, err := load()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, notFound)
		}
		s.logger.Error("catalog lookup failed", zap.String("key", key), zap.Error(err))
		return nil, storeError(err, "failed to load "+key)
	}

	s.cache.Store(ctx, key, value)
	return value, nil
}

func createError(err error, duplicate, message string) *appErrors.Error {
	if errors.Is(err, repository.ErrDuplicate) {
		return appErrors.WrapAs(err, appErrors.ErrAlreadyExists, duplicate)
	}
	return storeError(err, message)
}
