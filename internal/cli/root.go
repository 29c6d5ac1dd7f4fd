// Package cli implements the scheduler-cli commands on top of the enrollment
// and catalog services.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	"github.com/noah-isme/class-scheduler-api/internal/service"
)

// EnrollmentEngine is the subset of the enrollment service the CLI drives.
type EnrollmentEngine interface {
	ScheduleClass(ctx context.Context, req service.ScheduleClassRequest) (*models.Enrollment, error)
	StudentDropClass(ctx context.Context, req service.DropClassRequest) (*service.DropClassResult, error)
	DropOffering(ctx context.Context, req service.DropOfferingRequest) ([]models.AffectedEnrollment, error)
	WithdrawStudent(ctx context.Context, studentID string) (*service.WithdrawResult, error)
}

// Catalog is the subset of the catalog service the CLI drives.
type Catalog interface {
	CreateSemester(ctx context.Context, req service.CreateSemesterRequest) (*models.Semester, error)
	CreateCourse(ctx context.Context, req service.CreateCourseRequest) (*models.Course, error)
	CreateOffering(ctx context.Context, req service.CreateOfferingRequest) (*models.ClassOffering, error)
	CreateStudent(ctx context.Context, req service.CreateStudentRequest) (*models.Student, error)
}

// Services bundles what the commands need. Close releases the backing store.
type Services struct {
	Enrollment EnrollmentEngine
	Catalog    Catalog
	Close      func()
}

// Connector builds Services on demand, once per invocation.
type Connector func(ctx context.Context) (*Services, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"

	connect  Connector
	services *Services
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. connect is invoked lazily before
// any subcommand runs.
func NewRootCommand(connect Connector) *cobra.Command {
	opts := &RootOptions{connect: connect}

	cmd := &cobra.Command{
		Use:   "scheduler-cli",
		Short: "Class scheduler administration",
		Long:  "Register semesters, courses, offerings and students, and run enrollment workflows against the scheduler database.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.connect == nil {
				return NewExitError(ExitCommandError, "no backend configured")
			}
			services, err := opts.connect(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "connect backend", err)
			}
			opts.services = services
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newAddSemesterCommand(opts))
	cmd.AddCommand(newAddCourseCommand(opts))
	cmd.AddCommand(newAddOfferingCommand(opts))
	cmd.AddCommand(newAddStudentCommand(opts))
	cmd.AddCommand(newScheduleCommand(opts))
	cmd.AddCommand(newDropCommand(opts))
	cmd.AddCommand(newCancelOfferingCommand(opts))
	cmd.AddCommand(newWithdrawCommand(opts))

	// PostRun hooks are skipped when RunE fails, so release inside RunE.
	for _, sub := range cmd.Commands() {
		run := sub.RunE
		if run == nil {
			continue
		}
		sub.RunE = func(cmd *cobra.Command, args []string) error {
			defer opts.release()
			return run(cmd, args)
		}
	}

	return cmd
}

func (o *RootOptions) release() {
	if o.services != nil && o.services.Close != nil {
		o.services.Close()
	}
	o.services = nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
