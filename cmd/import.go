package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/kozaktomas/face-registry/internal/importer"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <directory>",
	Short: "Import every photo in a directory",
	Long: `Walk a directory and store every .jpg, .jpeg and .png file.

By default each photo becomes a new identity. With --dedupe each photo is
matched first and attached to the matching identity when there is one.
Failed files are reported at the end and do not stop the import.

Examples:
  face-registry import ./photos
  face-registry import ./photos --dedupe --concurrency 8 --rate 10`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().Bool("dedupe", false, "Attach to matching identities instead of always creating")
	importCmd.Flags().Int("concurrency", 0, "Files processed in parallel (overrides IMPORT_CONCURRENCY)")
	importCmd.Flags().Float64("rate", -1, "Embedding calls per second, 0 = unlimited (overrides IMPORT_RATE_PER_SECOND)")
	importCmd.Flags().Bool("json", false, "Output as JSON")
}

// importFileOutput is one row of the JSON report.
type importFileOutput struct {
	Path       string `json:"path"`
	Outcome    string `json:"outcome"`
	IdentityID string `json:"identity_id,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
	Error      string `json:"error,omitempty"`
}

type importOutput struct {
	Files    []importFileOutput `json:"files"`
	Created  int                `json:"created"`
	Attached int                `json:"attached"`
	Failed   int                `json:"failed"`
}

func newImportProgressBar(count int, jsonOutput bool) *progressbar.ProgressBar {
	if jsonOutput {
		return nil
	}
	return progressbar.NewOptions(count,
		progressbar.OptionSetDescription("Importing"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func runImport(cmd *cobra.Command, args []string) error {
	dir := args[0]
	jsonOutput := mustGetBool(cmd, "json")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := importer.Options{
		Concurrency:   a.cfg.Import.Concurrency,
		RatePerSecond: a.cfg.Import.RatePerSecond,
		Dedupe:        mustGetBool(cmd, "dedupe"),
	}
	if c := mustGetInt(cmd, "concurrency"); c > 0 {
		opts.Concurrency = c
	}
	if r := mustGetFloat64(cmd, "rate"); r >= 0 {
		opts.RatePerSecond = r
	}

	files, err := importer.CollectFiles(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Printf("No photos found in %s\n", dir)
		return nil
	}

	bar := newImportProgressBar(len(files), jsonOutput)
	if bar != nil {
		opts.OnProgress = func(importer.ProgressInfo) { _ = bar.Add(1) }
	}

	res, err := importer.New(a.svc, a.log).Run(ctx, dir, opts)
	if err != nil {
		return fmt.Errorf("import interrupted: %w", err)
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}

	if jsonOutput {
		out := importOutput{Created: res.Created, Attached: res.Attached, Failed: res.Failed}
		for _, f := range res.Files {
			row := importFileOutput{Path: f.Path, IdentityID: f.IdentityID, ImageURL: f.ImageURL, Outcome: string(f.Outcome)}
			if f.Err != nil {
				row.Outcome = "failed"
				row.Error = f.Err.Error()
			}
			out.Files = append(out.Files, row)
		}
		return outputJSON(out)
	}

	if res.Failed > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tERROR")
		fmt.Fprintln(w, "----\t-----")
		for _, f := range res.Files {
			if f.Err == nil {
				continue
			}
			rel, relErr := filepath.Rel(dir, f.Path)
			if relErr != nil {
				rel = f.Path
			}
			fmt.Fprintf(w, "%s\t%s\n", rel, serviceError(f.Err))
		}
		w.Flush()
		fmt.Println()
	}

	fmt.Printf("Created:  %d\n", res.Created)
	fmt.Printf("Attached: %d\n", res.Attached)
	fmt.Printf("Failed:   %d\n", res.Failed)
	return nil
}
