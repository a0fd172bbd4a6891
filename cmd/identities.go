package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create <image>",
	Short: "Create a new identity from a photo",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreate,
}

var attachCmd = &cobra.Command{
	Use:   "attach <identity-id> <image>",
	Short: "Add a photo to an existing identity",
	Long: `Add a photo to an existing identity.

The photo is stored and its locator appended to the identity. The identity's
embedding is updated according to EMBEDDING_POLICY (last, average or best).`,
	Args: cobra.ExactArgs(2),
	RunE: runAttach,
}

var identityCmd = &cobra.Command{
	Use:   "identity <identity-id>",
	Short: "Show a stored identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentity,
}

func init() {
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(identityCmd)

	createCmd.Flags().Bool("json", false, "Output as JSON")
	attachCmd.Flags().Bool("json", false, "Output as JSON")
	identityCmd.Flags().Bool("json", false, "Output as JSON")
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	data, err := readPhoto(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.Create(ctx, data)
	if err != nil {
		return serviceError(err)
	}
	return printWriteResult(res, mustGetBool(cmd, "json"))
}

func runAttach(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	data, err := readPhoto(args[1])
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.Attach(ctx, data, args[0])
	if err != nil {
		return serviceError(err)
	}
	return printWriteResult(res, mustGetBool(cmd, "json"))
}

// identityOutput is the JSON shape of the identity command.
type identityOutput struct {
	IdentityID   string    `json:"identity_id"`
	ImageURLs    []string  `json:"image_urls"`
	DetScore     float64   `json:"det_score,omitempty"`
	Samples      int       `json:"samples"`
	EmbeddingDim int       `json:"embedding_dim"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func runIdentity(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.svc.Get(ctx, args[0])
	if err != nil {
		return serviceError(err)
	}

	urls := rec.Metadata.ImageURLs
	if urls == nil {
		urls = []string{}
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(identityOutput{
			IdentityID:   rec.ID,
			ImageURLs:    urls,
			DetScore:     rec.Metadata.DetScore,
			Samples:      rec.Metadata.Samples,
			EmbeddingDim: len(rec.Embedding),
			Version:      rec.Version,
			CreatedAt:    rec.CreatedAt,
			UpdatedAt:    rec.UpdatedAt,
		})
	}

	fmt.Printf("Identity: %s\n", rec.ID)
	fmt.Println("────────────────────────────────────────")
	fmt.Printf("  Version:    %d\n", rec.Version)
	fmt.Printf("  Samples:    %d\n", rec.Metadata.Samples)
	if rec.Metadata.DetScore > 0 {
		fmt.Printf("  Det score:  %.3f\n", rec.Metadata.DetScore)
	}
	fmt.Printf("  Embedding:  %d dims\n", len(rec.Embedding))
	if !rec.CreatedAt.IsZero() {
		fmt.Printf("  Created:    %s\n", rec.CreatedAt.Format(time.RFC3339))
		fmt.Printf("  Updated:    %s\n", rec.UpdatedAt.Format(time.RFC3339))
	}
	fmt.Printf("\nPhotos (%d):\n", len(urls))
	for _, u := range urls {
		fmt.Printf("  %s\n", u)
	}
	return nil
}
