package update

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"mmu/internal/debug"
	"mmu/internal/domain"
	appErrors "mmu/internal/errors"
	"mmu/internal/ledger"
)

// ErrLocationMissing is returned when a group's install directory is absent.
var ErrLocationMissing = fmt.Errorf("install location missing")

// ReleaseResolver resolves a mod to the asset it should be installed from.
type ReleaseResolver interface {
	Resolve(ctx context.Context, mod domain.Mod) (*Resolution, error)
}

// FileSynchronizer installs a resolved asset into a directory.
type FileSynchronizer interface {
	Sync(ctx context.Context, location string, pattern domain.Pattern, asset ReleaseAsset) (SyncResult, error)
}

// Recorder persists successful installs.
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) error
}

// Logger is the leveled console the runner reports through.
type Logger interface {
	Infof(format string, args ...any)
	Warningf(format string, args ...any)
	Successf(format string, args ...any)
	Detailf(format string, args ...any)
}

// ModResult is the per-mod line of a Report.
type ModResult struct {
	Mod     domain.Mod
	Outcome Outcome
	File    string
	Removed string
	Tag     string
	Err     error
}

// Report summarizes one group update.
type Report struct {
	Group   string
	Results []ModResult
}

// Count returns how many mods ended with outcome.
func (r Report) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Runner drives the resolve and sync steps over a group, one mod at a time.
type Runner struct {
	resolver ReleaseResolver
	syncer   FileSynchronizer
	log      Logger
	recorder Recorder
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRecorder records every successful install.
func WithRecorder(rec Recorder) RunnerOption {
	return func(r *Runner) {
		r.recorder = rec
	}
}

// NewRunner creates a group runner.
func NewRunner(resolver ReleaseResolver, syncer FileSynchronizer, log Logger, opts ...RunnerOption) *Runner {
	r := &Runner{resolver: resolver, syncer: syncer, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CheckLocation verifies that dir exists and is a directory.
func CheckLocation(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return appErrors.New(appErrors.CodeLocationMissing, fmt.Sprintf("install location %s does not exist", dir), ErrLocationMissing)
	}
	if err != nil {
		return appErrors.New(appErrors.CodeLocationMissing, fmt.Sprintf("install location %s: %v", dir, err), err)
	}
	if !info.IsDir() {
		return appErrors.New(appErrors.CodeLocationMissing, fmt.Sprintf("install location %s is not a directory", dir), ErrLocationMissing)
	}
	return nil
}

// UpdateGroup updates every mod of group in declared order. A missing
// location aborts before any network call. Recoverable per-mod failures are
// logged and recorded in the report without stopping the loop; cancellation
// and unclassified errors end it early and are returned with the partial
// report.
func (r *Runner) UpdateGroup(ctx context.Context, group domain.ModGroup) (Report, error) {
	report := Report{Group: group.Name}

	if err := CheckLocation(group.Location); err != nil {
		return report, err
	}

	r.log.Infof("Updating '%s' (%d mods) in %s", group.Name, len(group.Mods), group.Location)
	for _, mod := range group.Mods {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := r.updateMod(ctx, group, mod)
		report.Results = append(report.Results, res)

		// a failure caused by cancellation is not the mod's fault
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if res.Err != nil && !appErrors.Recoverable(res.Err) {
			return report, res.Err
		}
	}
	return report, nil
}

func (r *Runner) updateMod(ctx context.Context, group domain.ModGroup, mod domain.Mod) ModResult {
	res := ModResult{Mod: mod}

	resolution, err := r.resolver.Resolve(ctx, mod)
	if err != nil {
		res.Outcome = OutcomeSkipped
		res.Err = err
		r.log.Warningf("Skipping %s: %v", mod.Name, err)
		return res
	}
	res.Tag = resolution.Release.TagName
	res.File = resolution.Asset.Name

	synced, err := r.syncer.Sync(ctx, group.Location, resolution.Pattern, resolution.Asset)
	res.Outcome = synced.Outcome
	if synced.Path != "" {
		res.File = filepath.Base(synced.Path)
	}
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		r.log.Warningf("Could not update %s: %v", mod.Name, err)
		return res
	}

	switch synced.Outcome {
	case OutcomeAlreadyCurrent:
		r.log.Infof("%s is already up to date (%s)", mod.Name, res.File)
	case OutcomeUpdated:
		res.Removed = synced.Removed
		r.log.Successf("Updated %s to %s (%s)", mod.Name, res.File, res.Tag)
		if synced.Removed != "" {
			r.log.Detailf("removed %s", synced.Removed)
		} else {
			r.log.Warningf("No previous file matching '%s' found in %s", resolution.Pattern, group.Location)
		}
		for _, extra := range synced.Leftover {
			r.log.Warningf("%s also matches '%s' and was left in place", extra, resolution.Pattern)
		}
		r.record(ctx, group, res, resolution, synced)
	}
	return res
}

func (r *Runner) record(ctx context.Context, group domain.ModGroup, res ModResult, resolution *Resolution, synced SyncResult) {
	if r.recorder == nil {
		return
	}
	err := r.recorder.Record(ctx, ledger.Entry{
		Group:    group.Name,
		Mod:      res.Mod.Name,
		File:     res.File,
		Removed:  synced.Removed,
		Tag:      res.Tag,
		AssetURL: resolution.Asset.BrowserDownloadURL,
		Bytes:    synced.Bytes,
	})
	if err != nil {
		debug.Event().Err(err).Str("mod", res.Mod.Name).Msg("ledger record failed")
		r.log.Warningf("Could not record install of %s: %v", res.Mod.Name, err)
	}
}
