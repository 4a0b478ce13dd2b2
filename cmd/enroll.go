package cmd

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facelookup/internal/database"
	"github.com/kozaktomas/facelookup/internal/lookup"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <student-id|name> <image>",
	Short: "Set a student's photo and store its face descriptor",
	Long: `Set the photo of a student and store the descriptor extracted from it.
The student is given by numeric ID or by full name (case, diacritics and
hyphens are ignored). A photo without a face stores an empty descriptor.

Examples:
  facelookup enroll 42 photos/anna.jpg

  # Store the photo inline as a data URI instead of a file reference
  facelookup enroll "Anna Dvořáková" photos/anna.jpg --inline

  # Create the student when no one has that name yet
  facelookup enroll "Petr Novák" petr.png --create`,
	Args: cobra.ExactArgs(2),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().Bool("inline", false, "Store the photo as a data URI")
	enrollCmd.Flags().Bool("create", false, "Create the student if the name is not found")
	enrollCmd.Flags().Bool("json", false, "Output as JSON")
}

// EnrollOutput is the JSON printed by enroll
type EnrollOutput struct {
	StudentID int64  `json:"student_id"`
	Name      string `json:"name"`
	Created   bool   `json:"created"`
	Found     bool   `json:"found"`
	Unchanged bool   `json:"unchanged"`
	PhotoHash string `json:"photo_hash"`
	Reason    string `json:"reason,omitempty"`
}

// inlinePhoto reads a photo file into a data URI.
func inlinePhoto(path string) (string, error) {
	if strings.HasPrefix(path, "data:") {
		return path, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return "", fmt.Errorf("reading photo: %w", err)
	}
	ct, _, _ := strings.Cut(http.DetectContentType(data), ";")
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ref, photo := args[0], args[1]
	create := mustGetBool(cmd, "create")
	jsonOutput := mustGetBool(cmd, "json")

	if mustGetBool(cmd, "inline") {
		uri, err := inlinePhoto(photo)
		if err != nil {
			return err
		}
		photo = uri
	}

	rt, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := context.Background()
	svc, err := rt.service(ctx, false)
	if err != nil {
		return err
	}

	out := EnrollOutput{Name: ref}
	var res *lookup.EnrollResult
	student, err := svc.ResolveStudent(ctx, ref)
	_, idErr := strconv.ParseInt(strings.TrimSpace(ref), 10, 64)
	switch {
	case errors.Is(err, database.ErrStudentNotFound) && create && idErr != nil:
		res, err = svc.CreateStudent(ctx, ref, photo)
		out.Created = true
	case err != nil:
		return err //nolint:wrapcheck // already names the student
	default:
		out.Name = student.Name
		res, err = svc.UpdatePhoto(ctx, student.ID, photo)
	}
	if err != nil {
		return err //nolint:wrapcheck // already names the student
	}

	out.StudentID = res.StudentID
	out.Found = res.Found
	out.Unchanged = res.Unchanged
	out.PhotoHash = res.PhotoHash
	out.Reason = res.Reason

	if jsonOutput {
		return outputJSON(out)
	}
	switch {
	case out.Created && out.Found:
		fmt.Printf("Created student %d %s with a face descriptor\n", out.StudentID, out.Name)
	case out.Created && out.Reason == lookup.ReasonPhotoUnreadable:
		fmt.Printf("Created student %d %s, the photo could not be read\n", out.StudentID, out.Name)
	case out.Created:
		fmt.Printf("Created student %d %s, no face found in the photo\n", out.StudentID, out.Name)
	case out.Unchanged:
		fmt.Printf("Student %d %s: photo unchanged, descriptor kept\n", out.StudentID, out.Name)
	case out.Found:
		fmt.Printf("Student %d %s: descriptor stored\n", out.StudentID, out.Name)
	default:
		fmt.Printf("Student %d %s: no face found, descriptor cleared\n", out.StudentID, out.Name)
	}
	return nil
}
