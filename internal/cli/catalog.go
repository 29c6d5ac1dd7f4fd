package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/noah-isme/class-scheduler-api/internal/service"
)

func newAddSemesterCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add-semester <semester-id>",
		Short: "Register a semester",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			semester, err := opts.services.Catalog.CreateSemester(cmd.Context(), service.CreateSemesterRequest{ID: args[0]})
			if err != nil {
				return serviceError("add-semester", err)
			}
			return writeResult(cmd.OutOrStdout(), opts.Format, semester, "semester "+semester.ID+" added")
		},
	}
}

func newAddCourseCommand(opts *RootOptions) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "add-course <course-code>",
		Short: "Register a catalog course",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			course, err := opts.services.Catalog.CreateCourse(cmd.Context(), service.CreateCourseRequest{Code: args[0], Description: description})
			if err != nil {
				return serviceError("add-course", err)
			}
			return writeResult(cmd.OutOrStdout(), opts.Format, course, fmt.Sprintf("course %s added: %s", course.Code, course.Description))
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "course description")
	return cmd
}

func newAddOfferingCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add-offering <semester-id> <course-code> <capacity>",
		Short: "Offer a course in a semester with a seat capacity",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			capacity, err := strconv.Atoi(args[2])
			if err != nil {
				return WrapExitError(ExitCommandError, "capacity must be an integer", err)
			}
			offering, err := opts.services.Catalog.CreateOffering(cmd.Context(), service.CreateOfferingRequest{
				SemesterID: args[0],
				CourseCode: args[1],
				Capacity:   capacity,
			})
			if err != nil {
				return serviceError("add-offering", err)
			}
			return writeResult(cmd.OutOrStdout(), opts.Format, offering,
				fmt.Sprintf("offering %s/%s added with %d seats", offering.SemesterID, offering.CourseCode, offering.Capacity))
		},
	}
}

func newAddStudentCommand(opts *RootOptions) *cobra.Command {
	var first, last string
	cmd := &cobra.Command{
		Use:   "add-student <student-id>",
		Short: "Register a student",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			student, err := opts.services.Catalog.CreateStudent(cmd.Context(), service.CreateStudentRequest{ID: args[0], FirstName: first, LastName: last})
			if err != nil {
				return serviceError("add-student", err)
			}
			return writeResult(cmd.OutOrStdout(), opts.Format, student, fmt.Sprintf("student %s added: %s", student.ID, student.FullName()))
		},
	}
	cmd.Flags().StringVar(&first, "first", "", "first name")
	cmd.Flags().StringVar(&last, "last", "", "last name")
	return cmd
}
