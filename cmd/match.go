package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facelookup/internal/face"
)

var matchCmd = &cobra.Command{
	Use:   "match <image>",
	Short: "Identify the student in an image",
	Long: `Extract the face descriptor of an image and find the nearest stored
student descriptor. A student is reported only when the cosine distance is
strictly below the threshold.

Examples:
  # Use the configured threshold (FACE_MATCH_THRESHOLD, default 0.45)
  facelookup match photo.jpg

  # Stricter matching
  facelookup match photo.jpg --threshold 0.363

  # Output as JSON
  facelookup match photo.jpg --json`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().Float64("threshold", 0, "Maximum cosine distance for a match (0 = configured default)")
	matchCmd.Flags().Bool("json", false, "Output as JSON")
}

// MatchOutput is the JSON printed by match
type MatchOutput struct {
	SearchID   string           `json:"search_id"`
	Matched    bool             `json:"matched"`
	StudentID  int64            `json:"student_id,omitempty"`
	Name       string           `json:"name,omitempty"`
	Distance   float64          `json:"distance"`
	Threshold  float64          `json:"threshold"`
	Reason     string           `json:"reason,omitempty"`
	Candidates []MatchCandidate `json:"candidates"`
}

// MatchCandidate is a runner-up student
type MatchCandidate struct {
	StudentID int64   `json:"student_id"`
	Distance  float64 `json:"distance"`
}

func runMatch(cmd *cobra.Command, args []string) error {
	threshold := mustGetFloat64(cmd, "threshold")
	jsonOutput := mustGetBool(cmd, "json")

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

	res, err := svc.Search(ctx, face.ParseSource(args[0]), threshold)
	if err != nil {
		return err //nolint:wrapcheck // carries the search id
	}

	out := MatchOutput{
		SearchID:   res.SearchID,
		Matched:    res.Matched,
		Threshold:  res.Threshold,
		Reason:     res.Reason,
		Candidates: make([]MatchCandidate, 0, len(res.Candidates)),
	}
	for _, c := range res.Candidates {
		out.Candidates = append(out.Candidates, MatchCandidate{StudentID: c.ID, Distance: c.Distance})
	}
	if res.Matched {
		out.StudentID = res.Match.ID
		out.Distance = res.Match.Distance
		if res.Student != nil {
			out.Name = res.Student.Name
		}
	}

	if jsonOutput {
		return outputJSON(out)
	}

	if out.Matched {
		fmt.Printf("Matched student %d %s (distance %.4f, threshold %.3f)\n",
			out.StudentID, out.Name, out.Distance, out.Threshold)
	} else {
		fmt.Printf("No match: %s (threshold %.3f)\n", out.Reason, out.Threshold)
	}
	if len(out.Candidates) == 0 {
		return nil
	}

	fmt.Println("\nNearest students:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STUDENT\tDISTANCE")
	for _, c := range out.Candidates {
		fmt.Fprintf(w, "%d\t%.4f\n", c.StudentID, c.Distance)
	}
	return w.Flush()
}
