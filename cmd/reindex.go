package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facelookup/internal/constants"
	"github.com/kozaktomas/facelookup/internal/lookup"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Recompute face descriptors from stored student photos",
	Long: `Recompute face descriptors for every student with a photo. Students whose
photo has not changed since their descriptor was stored are skipped, unless
--force is given. Use --force after changing the recognizer model or the
detection settings so every descriptor comes from the same configuration.

Examples:
  # Backfill students that have a photo but no descriptor
  facelookup reindex --missing-only

  # Recompute everything with 8 workers
  facelookup reindex --workers 8

  # Recompute every descriptor after a model change
  facelookup reindex --force

  # JSON summary for scripting
  facelookup reindex --json`,
	RunE: runReindex,
}

func init() {
	rootCmd.AddCommand(reindexCmd)

	reindexCmd.Flags().Bool("missing-only", false, "Only students without a stored descriptor")
	reindexCmd.Flags().Bool("force", false, "Recompute descriptors even for unchanged photos")
	reindexCmd.Flags().Int("workers", constants.WorkerPoolSize, "Number of parallel workers")
	reindexCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

// ReindexOutput is the summary printed by reindex
type ReindexOutput struct {
	Success       bool     `json:"success"`
	Processed     int      `json:"processed"`
	Encoded       int      `json:"encoded"`
	NoFace        int      `json:"no_face"`
	Skipped       int      `json:"skipped"`
	Errors        []string `json:"errors"`
	DurationMs    int64    `json:"duration_ms"`
	DurationHuman string   `json:"duration_human,omitempty"`
}

func runReindex(cmd *cobra.Command, args []string) error {
	missingOnly := mustGetBool(cmd, "missing-only")
	force := mustGetBool(cmd, "force")
	workers := mustGetInt(cmd, "workers")
	jsonOutput := mustGetBool(cmd, "json")

	rt, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := context.Background()
	startTime := time.Now()
	svc, err := rt.service(ctx, false)
	if err != nil {
		return err
	}
	if err := rt.models.Warm(); err != nil {
		return fmt.Errorf("loading face models: %w", err)
	}

	var bar *progressbar.ProgressBar
	opts := lookup.ReindexOptions{OnlyMissing: missingOnly, Force: force, Workers: workers}
	if !jsonOutput {
		opts.OnProgress = func(p lookup.ProgressInfo) {
			if bar == nil {
				bar = progressbar.NewOptions(p.Total,
					progressbar.OptionSetDescription("Encoding students"),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("students"),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetPredictTime(true),
					progressbar.OptionFullWidth(),
				)
			}
			bar.Set(p.Current)
		}
	}

	res, err := svc.Reindex(ctx, opts)
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}
	if err != nil && res == nil {
		return err //nolint:wrapcheck // lookup wraps with context
	}

	out := ReindexOutput{
		Success:    err == nil && len(res.Errors) == 0,
		Processed:  res.Processed,
		Encoded:    res.Encoded,
		NoFace:     res.NoFace,
		Skipped:    res.Skipped,
		Errors:     make([]string, 0, len(res.Errors)),
		DurationMs: time.Since(startTime).Milliseconds(),
	}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, e.Error())
	}

	if jsonOutput {
		if err := outputJSON(out); err != nil {
			return err
		}
	} else {
		fmt.Printf("Processed %d students in %s\n", out.Processed, time.Since(startTime).Round(time.Millisecond))
		fmt.Printf("  Encoded: %d\n  No face: %d\n  Skipped: %d\n  Errors:  %d\n",
			out.Encoded, out.NoFace, out.Skipped, len(out.Errors))
		for _, e := range out.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}

	if err != nil {
		return err //nolint:wrapcheck // lookup wraps with context
	}
	if len(res.Errors) > 0 {
		return errors.New("some students could not be encoded")
	}
	return nil
}
