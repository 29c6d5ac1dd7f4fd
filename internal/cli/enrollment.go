package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	"github.com/noah-isme/class-scheduler-api/internal/service"
)

func newScheduleCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <semester-id> <student-id> <course-code>",
		Short: "Schedule a student into an offering, or waitlist them when full",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			enrollment, err := opts.services.Enrollment.ScheduleClass(cmd.Context(), service.ScheduleClassRequest{
				SemesterID: args[0],
				StudentID:  args[1],
				CourseCode: args[2],
			})
			if err != nil {
				return serviceError("schedule", err)
			}
			return writeResult(cmd.OutOrStdout(), opts.Format, enrollment,
				fmt.Sprintf("%s %s in %s/%s", enrollment.StudentID, enrollment.Status, enrollment.SemesterID, enrollment.CourseCode))
		},
	}
}

func newDropCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <semester-id> <student-id> <course-code>",
		Short: "Drop a student's enrollment",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := opts.services.Enrollment.StudentDropClass(cmd.Context(), service.DropClassRequest{
				SemesterID: args[0],
				StudentID:  args[1],
				CourseCode: args[2],
			})
			if err != nil {
				return serviceError("drop", err)
			}
			lines := []string{fmt.Sprintf("%s dropped (%s)", result.Dropped.StudentID, result.Dropped.Status)}
			if result.Promoted != nil {
				lines = append(lines, fmt.Sprintf("%s promoted from waitlist", result.Promoted.StudentID))
			}
			return writeResult(cmd.OutOrStdout(), opts.Format, result, lines...)
		},
	}
}

func newCancelOfferingCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel-offering <semester-id> <course-code>",
		Short: "Cancel an offering and remove every enrollment in it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			affected, err := opts.services.Enrollment.DropOffering(cmd.Context(), service.DropOfferingRequest{
				SemesterID: args[0],
				CourseCode: args[1],
			})
			if err != nil {
				return serviceError("cancel-offering", err)
			}
			lines := []string{fmt.Sprintf("offering %s/%s cancelled, %d students affected", args[0], args[1], len(affected))}
			for _, a := range affected {
				lines = append(lines, "  "+affectedLine(a))
			}
			return writeResult(cmd.OutOrStdout(), opts.Format, affected, lines...)
		},
	}
}

func newWithdrawCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <student-id>",
		Short: "Remove a student and all of their enrollments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := opts.services.Enrollment.WithdrawStudent(cmd.Context(), args[0])
			if err != nil {
				return serviceError("withdraw", err)
			}
			lines := []string{fmt.Sprintf("student %s withdrawn, %d enrollments removed", result.StudentID, len(result.Removed))}
			for _, p := range result.Promoted {
				lines = append(lines, fmt.Sprintf("  %s promoted in %s/%s", p.StudentID, p.SemesterID, p.CourseCode))
			}
			return writeResult(cmd.OutOrStdout(), opts.Format, result, lines...)
		},
	}
}

func affectedLine(a models.AffectedEnrollment) string {
	student := models.Student{FirstName: a.FirstName, LastName: a.LastName}
	return fmt.Sprintf("%s [%s] (%s)", student.FullName(), a.StudentID, a.PriorStatus)
}
