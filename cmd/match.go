package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-registry/internal/config"
	"github.com/kozaktomas/face-registry/internal/identity"
	"github.com/spf13/cobra"
)

var matchCmd = &cobra.Command{
	Use:   "match <image>",
	Short: "Find the identity that matches the face in a photo",
	Long: `Embed the face in a photo and look up the closest stored identity.

Nothing is written unless --apply is given. With --apply the photo is
attached to the matched identity, or a new identity is created when there is
no match.

Examples:
  # Look up a photo
  face-registry match portrait.jpg

  # Look up and store the photo in one step
  face-registry match portrait.jpg --apply

  # Output as JSON
  face-registry match portrait.jpg --json`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().Bool("apply", false, "Attach on match, create a new identity otherwise")
	matchCmd.Flags().Float64("threshold", 0, "Minimum cosine similarity for a match, -1 to 1 (overrides MATCH_THRESHOLD)")
	matchCmd.Flags().Bool("json", false, "Output as JSON")
}

// matchOutput is the JSON shape of the match command.
type matchOutput struct {
	Matched    bool         `json:"matched"`
	IdentityID string       `json:"identity_id,omitempty"`
	ImageURLs  []string     `json:"image_urls"`
	Score      float64      `json:"score"`
	Message    string       `json:"message"`
	Applied    *writeOutput `json:"applied,omitempty"`
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	jsonOutput := mustGetBool(cmd, "json")
	apply := mustGetBool(cmd, "apply")

	data, err := readPhoto(args[0])
	if err != nil {
		return err
	}

	cfg := config.Load()
	applyThresholdFlag(cmd, cfg)

	a, err := newAppFromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	svc := a.svc

	res, err := svc.FindMatch(ctx, data)
	if err != nil {
		return serviceError(err)
	}

	var applied *identity.WriteResult
	if apply {
		if res.Matched {
			applied, err = svc.Attach(ctx, data, res.IdentityID)
		} else {
			applied, err = svc.Create(ctx, data)
		}
		if err != nil {
			return serviceError(err)
		}
	}

	if jsonOutput {
		out := matchOutput{
			Matched:    res.Matched,
			IdentityID: res.IdentityID,
			ImageURLs:  res.ImageURLs,
			Score:      res.Score,
			Message:    res.Message,
		}
		if applied != nil {
			out.Applied = &writeOutput{
				IdentityID: applied.IdentityID,
				ImageURL:   applied.ImageURL,
				ImageURLs:  applied.ImageURLs,
				Version:    applied.Version,
				Outcome:    string(applied.Outcome),
				Message:    applied.Message,
			}
		}
		return outputJSON(out)
	}

	fmt.Println(res.Message)
	if res.Score > 0 {
		fmt.Printf("Similarity: %.4f (threshold %.2f)\n", res.Score, svc.Threshold())
	}
	for _, u := range res.ImageURLs {
		fmt.Printf("  %s\n", u)
	}
	if applied != nil {
		fmt.Println()
		return printWriteResult(applied, false)
	}
	return nil
}

// applyThresholdFlag overrides the configured threshold when --threshold was
// given, including an explicit 0. Range checks happen in serviceConfig.
func applyThresholdFlag(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("threshold") {
		cfg.Match.Threshold = mustGetFloat64(cmd, "threshold")
	}
}
