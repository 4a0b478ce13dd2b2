package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facelookup/internal/face"
	"github.com/kozaktomas/facelookup/internal/lookup"
)

var encodeCmd = &cobra.Command{
	Use:   "encode <image>",
	Short: "Print the face descriptor of an image",
	Long: `Extract the descriptor of the most prominent face in an image and print it
as JSON. The image is a file path, a bare file name under the upload
directory, or a data URI.

Examples:
  facelookup encode photos/anna.jpg
  facelookup encode "data:image/png;base64,iVBORw0..."`,
	Args: cobra.ExactArgs(1),
	RunE: runEncode,
}

func init() {
	rootCmd.AddCommand(encodeCmd)
}

// EncodeOutput is the JSON printed by encode
type EncodeOutput struct {
	Found      bool            `json:"found"`
	Descriptor face.Descriptor `json:"descriptor"`
	Dim        int             `json:"dim"`
	Reason     string          `json:"reason,omitempty"`
}

func runEncode(cmd *cobra.Command, args []string) error {
	rt, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	desc, err := rt.extractor().Describe(context.Background(), face.ParseSource(args[0]))
	if errors.Is(err, face.ErrNoFace) {
		return outputJSON(EncodeOutput{Reason: lookup.ReasonNoFace})
	}
	if err != nil {
		return fmt.Errorf("encoding %s: %w", face.ParseSource(args[0]).Kind(), err)
	}
	return outputJSON(EncodeOutput{Found: true, Descriptor: desc, Dim: len(desc)})
}
