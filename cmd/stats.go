package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facelookup/internal/database"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many students have photos and descriptors",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().Bool("json", false, "Output as JSON")
}

// StatsOutput is printed by stats
type StatsOutput struct {
	Backend            string `json:"backend"`
	Students           int    `json:"students"`
	WithPhoto          int    `json:"with_photo"`
	WithDescriptor     int    `json:"with_descriptor"`
	MissingDescriptors int    `json:"missing_descriptors"`
}

func runStats(cmd *cobra.Command, args []string) error {
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
	stats, err := svc.Stats(ctx)
	if err != nil {
		return err //nolint:wrapcheck // lookup wraps with context
	}

	out := StatsOutput{
		Backend:            database.BackendName(),
		Students:           stats.Students,
		WithPhoto:          stats.WithPhoto,
		WithDescriptor:     stats.WithDescriptor,
		MissingDescriptors: stats.MissingDescriptors(),
	}
	if jsonOutput {
		return outputJSON(out)
	}

	fmt.Printf("Backend:                 %s\n", out.Backend)
	fmt.Printf("Students:                %d\n", out.Students)
	fmt.Printf("With photo:              %d\n", out.WithPhoto)
	fmt.Printf("With descriptor:         %d\n", out.WithDescriptor)
	fmt.Printf("Photo but no descriptor: %d\n", out.MissingDescriptors)
	if out.MissingDescriptors > 0 {
		fmt.Println("\nRun 'facelookup reindex --missing-only' to backfill.")
	}
	return nil
}
