// Package importer loads a directory of photos into the identity registry.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/kozaktomas/face-registry/internal/constants"
	"github.com/kozaktomas/face-registry/internal/identity"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Service is the part of identity.Service the importer drives.
type Service interface {
	FindMatch(ctx context.Context, data []byte) (*identity.MatchResult, error)
	Attach(ctx context.Context, data []byte, identityID string) (*identity.WriteResult, error)
	Create(ctx context.Context, data []byte) (*identity.WriteResult, error)
}

// ProgressInfo contains progress information for callbacks
type ProgressInfo struct {
	Current int
	Total   int
	Path    string
	Outcome string // identity outcome or error kind
}

type Options struct {
	Concurrency   int     // files processed in parallel
	RatePerSecond float64 // embedding calls per second, 0 = unlimited
	Dedupe        bool    // attach to a matching identity instead of always creating
	OnProgress    func(ProgressInfo)
}

// FileResult is the outcome for one file. Exactly one of Outcome and Err is set.
type FileResult struct {
	Path       string
	Outcome    identity.Outcome
	IdentityID string
	ImageURL   string
	Err        error
}

type Result struct {
	Files    []FileResult // in walk order
	Created  int
	Attached int
	Failed   int
}

type Importer struct {
	svc Service
	log *zap.Logger
}

func New(svc Service, log *zap.Logger) *Importer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Importer{svc: svc, log: log}
}

// CollectFiles walks dir and returns every .jpg, .jpeg and .png file, sorted.
func CollectFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if slices.Contains(constants.ImportExtensions, strings.ToLower(filepath.Ext(path))) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	slices.Sort(files)
	return files, nil
}

// Run imports every photo under dir. A failing file is recorded in the result
// and never stops the batch; only a cancelled context or an unreadable
// directory returns an error.
func (im *Importer) Run(ctx context.Context, dir string, opts Options) (*Result, error) {
	files, err := CollectFiles(dir)
	if err != nil {
		return nil, err
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = constants.DefaultImportWorkers
	}
	concurrency = min(concurrency, constants.MaxImportWorkers)

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		// Burst of 2 lets a dedupe file spend its match and attach calls together.
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), max(2, int(opts.RatePerSecond)))
	}

	im.log.Info("import started",
		zap.String("dir", dir),
		zap.Int("files", len(files)),
		zap.Int("concurrency", concurrency),
		zap.Bool("dedupe", opts.Dedupe),
	)

	results := make([]FileResult, len(files))
	var (
		progressMu sync.Mutex
		processed  int
	)
	reportProgress := func(r FileResult) {
		if opts.OnProgress == nil {
			return
		}
		progressMu.Lock()
		processed++
		info := ProgressInfo{Current: processed, Total: len(files), Path: r.Path, Outcome: outcomeLabel(r)}
		opts.OnProgress(info)
		progressMu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = im.importFile(gctx, path, limiter, opts.Dedupe)
			reportProgress(results[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Files: results}
	for _, r := range results {
		switch {
		case r.Err != nil:
			res.Failed++
		case r.Outcome == identity.OutcomeAttached:
			res.Attached++
		default:
			res.Created++
		}
	}
	im.log.Info("import finished",
		zap.Int("created", res.Created),
		zap.Int("attached", res.Attached),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (im *Importer) importFile(ctx context.Context, path string, limiter *rate.Limiter, dedupe bool) FileResult {
	res := FileResult{Path: path}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from walking the import directory
	if err != nil {
		res.Err = fmt.Errorf("reading %s: %w", path, err)
		return res
	}

	calls := 1
	if dedupe {
		calls = 2
	}
	if limiter != nil {
		if err := limiter.WaitN(ctx, calls); err != nil {
			res.Err = err
			return res
		}
	}

	var write *identity.WriteResult
	if dedupe {
		match, err := im.svc.FindMatch(ctx, data)
		if err != nil {
			res.Err = err
			im.logFailure(path, err)
			return res
		}
		if match.Matched {
			write, err = im.svc.Attach(ctx, data, match.IdentityID)
		} else {
			write, err = im.svc.Create(ctx, data)
		}
		res.Err = err
	} else {
		write, res.Err = im.svc.Create(ctx, data)
	}

	if res.Err != nil {
		im.logFailure(path, res.Err)
		return res
	}
	res.Outcome = write.Outcome
	res.IdentityID = write.IdentityID
	res.ImageURL = write.ImageURL
	im.log.Debug("file imported",
		zap.String("path", path),
		zap.String("outcome", string(write.Outcome)),
		zap.String("identity_id", write.IdentityID),
	)
	return res
}

func (im *Importer) logFailure(path string, err error) {
	cause := err
	var ie *identity.Error
	if errors.As(err, &ie) && ie.Err != nil {
		cause = ie.Err
	}
	im.log.Warn("file import failed",
		zap.String("path", path),
		zap.String("kind", string(identity.KindOf(err))),
		zap.NamedError("cause", cause),
	)
}

func outcomeLabel(r FileResult) string {
	if r.Err == nil {
		return string(r.Outcome)
	}
	if kind := identity.KindOf(r.Err); kind != "" {
		return string(kind)
	}
	return "error"
}
