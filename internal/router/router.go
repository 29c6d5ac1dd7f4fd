package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/noah-isme/class-scheduler-api/internal/handler"
	"github.com/noah-isme/class-scheduler-api/pkg/config"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	CatalogHandler    *handler.CatalogHandler
	EnrollmentHandler *handler.EnrollmentHandler
	MetricsHandler    *handler.MetricsHandler
}

// Register wires the HTTP routes into the gin engine. Operational endpoints
// live at the root; the domain API lives under cfg.APIPrefix.
func Register(r *gin.Engine, cfg *config.Config, deps Dependencies) {
	if deps.MetricsHandler != nil {
		r.GET("/health", deps.MetricsHandler.Health)
		r.GET("/ready", deps.MetricsHandler.Ready)
		r.GET("/metrics", deps.MetricsHandler.Prometheus)
	}

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	if deps.CatalogHandler != nil {
		api.POST("/semesters", deps.CatalogHandler.CreateSemester)
		api.GET("/semesters/:semesterId", deps.CatalogHandler.GetSemester)
		api.POST("/courses", deps.CatalogHandler.CreateCourse)
		api.GET("/courses/:courseCode", deps.CatalogHandler.GetCourse)
		api.POST("/offerings", deps.CatalogHandler.CreateOffering)
		api.GET("/semesters/:semesterId/offerings/:courseCode", deps.CatalogHandler.GetOffering)
		api.POST("/students", deps.CatalogHandler.CreateStudent)
		api.GET("/students/:studentId", deps.CatalogHandler.GetStudent)
	}

	if deps.EnrollmentHandler != nil {
		api.POST("/enrollments", deps.EnrollmentHandler.Schedule)
		api.DELETE("/semesters/:semesterId/offerings/:courseCode/enrollments/:studentId", deps.EnrollmentHandler.Drop)
		api.DELETE("/semesters/:semesterId/offerings/:courseCode", deps.EnrollmentHandler.CancelOffering)
		api.DELETE("/students/:studentId", deps.EnrollmentHandler.Withdraw)
	}
}
