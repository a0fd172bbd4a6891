package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kozaktomas/face-registry/internal/identity"
)

// outputJSON writes data to stdout as indented JSON.
func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

// readPhoto reads an image file given on the command line.
func readPhoto(path string) ([]byte, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is a command argument
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// writeOutput is the JSON shape of create and attach.
type writeOutput struct {
	IdentityID string   `json:"identity_id"`
	ImageURL   string   `json:"image_url"`
	ImageURLs  []string `json:"image_urls"`
	Version    int64    `json:"version"`
	Outcome    string   `json:"outcome"`
	Message    string   `json:"message"`
}

func printWriteResult(res *identity.WriteResult, jsonOutput bool) error {
	if jsonOutput {
		return outputJSON(writeOutput{
			IdentityID: res.IdentityID,
			ImageURL:   res.ImageURL,
			ImageURLs:  res.ImageURLs,
			Version:    res.Version,
			Outcome:    string(res.Outcome),
			Message:    res.Message,
		})
	}
	fmt.Println(res.Message)
	fmt.Printf("Stored:  %s\n", res.ImageURL)
	fmt.Printf("Photos:  %d\n", len(res.ImageURLs))
	return nil
}

// serviceError turns an identity error into a CLI error that shows the
// user-facing message together with its cause.
func serviceError(err error) error {
	kind := identity.KindOf(err)
	if kind == "" {
		return err
	}
	msg := strings.TrimSuffix(err.Error(), ".")
	if cause := unwrapCause(err); cause != nil {
		return fmt.Errorf("%s (%s): %w", msg, kind, cause)
	}
	return fmt.Errorf("%s (%s)", msg, kind)
}

func unwrapCause(err error) error {
	var ie *identity.Error
	if errors.As(err, &ie) {
		return ie.Err
	}
	return nil
}
