package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Identity index maintenance",
}

var indexInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the identity index",
	Long: `Create the identity index for the configured backend.

For postgres and mariadb this applies the schema migrations, sizing the
vector column to EMBEDDING_DIM. The memory backend needs no setup; it
loads INDEX_SNAPSHOT_PATH when the file exists. Running it again is harmless.`,
	Args: cobra.NoArgs,
	RunE: runIndexInit,
}

var indexCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Show the number of stored identities",
	Args:  cobra.NoArgs,
	RunE:  runIndexCount,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexInitCmd)
	indexCmd.AddCommand(indexCountCmd)
}

func runIndexInit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// Opening the index runs the migrations.
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	count, err := a.index.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting identities: %w", err)
	}
	fmt.Printf("Index ready (backend %s, dim %d, %d identities)\n",
		a.cfg.Database.Backend, a.cfg.Embedding.Dim, count)
	return nil
}

func runIndexCount(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	count, err := a.index.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting identities: %w", err)
	}
	fmt.Printf("Identities: %d\n", count)
	return nil
}
