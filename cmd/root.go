package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "face-registry",
	Short: "Match face photos against a registry of identities",
	Long: `Face Registry stores photos of people and groups them into identities.

A submitted photo is embedded by the face embedding service and compared with
the closest stored identity. On a match the photo can be attached to that
identity, otherwise a new identity is created. Photos live in a blob store
(S3, MinIO, Azure or the local disk); identities live in a vector index
(PostgreSQL with pgvector, MariaDB or an in-process HNSW graph).`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
