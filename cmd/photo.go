package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var photoCmd = &cobra.Command{
	Use:   "photo",
	Short: "Stored photo operations",
	Long:  `Commands for downloading or deleting stored photos by locator URL.`,
}

var photoGetCmd = &cobra.Command{
	Use:   "get <url>",
	Short: "Download a stored photo",
	Args:  cobra.ExactArgs(1),
	RunE:  runPhotoGet,
}

var photoDeleteCmd = &cobra.Command{
	Use:   "delete <url>",
	Short: "Delete a stored photo",
	Long: `Delete a stored photo from the blob store.

Identities that reference the photo are not changed; their locator lists
still contain the URL.`,
	Args: cobra.ExactArgs(1),
	RunE: runPhotoDelete,
}

func init() {
	rootCmd.AddCommand(photoCmd)
	photoCmd.AddCommand(photoGetCmd)
	photoCmd.AddCommand(photoDeleteCmd)

	photoGetCmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")
}

func runPhotoGet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := a.svc.FetchPhoto(ctx, args[0])
	if err != nil {
		return serviceError(err)
	}

	output := mustGetString(cmd, "output")
	if output == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(output, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}
	fmt.Printf("Saved %d bytes to %s\n", len(data), output)
	return nil
}

func runPhotoDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.DeletePhoto(ctx, args[0]); err != nil {
		return serviceError(err)
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}
