package update

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"mmu/internal/debug"
	"mmu/internal/domain"
	appErrors "mmu/internal/errors"
)

// Error variables for synchronizer-specific errors.
var (
	ErrDownloadFailed   = fmt.Errorf("download failed")
	ErrInvalidAssetName = fmt.Errorf("invalid asset file name")
)

const tempPattern = ".mmu-*.part"

// Outcome classifies what happened to a single mod.
type Outcome int

const (
	// OutcomeSkipped means the mod was not processed (bad link, no asset, ...).
	OutcomeSkipped Outcome = iota
	// OutcomeAlreadyCurrent means the target file already existed.
	OutcomeAlreadyCurrent
	// OutcomeUpdated means a new file was written.
	OutcomeUpdated
	// OutcomeFailed means the download or write failed.
	OutcomeFailed
)

// String returns the string representation of an Outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeAlreadyCurrent:
		return "current"
	case OutcomeUpdated:
		return "updated"
	case OutcomeFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// SyncResult describes the filesystem effect of a Sync call.
type SyncResult struct {
	Outcome Outcome
	// Path is the target file path.
	Path string
	// Removed is the old file that was deleted, if any.
	Removed string
	// Leftover lists further files matching the pattern that were left alone.
	Leftover []string
	// Bytes is the number of bytes written.
	Bytes int64
}

// Reporter receives download progress. Implementations must tolerate a
// total of -1 when the server sends no Content-Length.
type Reporter interface {
	Start(name string, total int64)
	Advance(n int64)
	Finish()
}

type nopReporter struct{}

func (nopReporter) Start(string, int64) {}
func (nopReporter) Advance(int64)       {}
func (nopReporter) Finish()             {}

// Syncer downloads release assets into a group directory.
type Syncer struct {
	userAgent  string
	atomic     bool
	reporter   Reporter
	httpClient *http.Client
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithSyncerHTTPClient sets a custom HTTP client for downloads.
func WithSyncerHTTPClient(client *http.Client) SyncerOption {
	return func(s *Syncer) {
		s.httpClient = client
	}
}

// WithSyncerUserAgent overrides the User-Agent header on downloads.
func WithSyncerUserAgent(ua string) SyncerOption {
	return func(s *Syncer) {
		if strings.TrimSpace(ua) != "" {
			s.userAgent = ua
		}
	}
}

// WithAtomicReplace selects temp-file-then-rename (true) or
// delete-then-write (false) installs.
func WithAtomicReplace(atomic bool) SyncerOption {
	return func(s *Syncer) {
		s.atomic = atomic
	}
}

// WithReporter attaches a download progress reporter.
func WithReporter(r Reporter) SyncerOption {
	return func(s *Syncer) {
		if r != nil {
			s.reporter = r
		}
	}
}

// NewSyncer creates a synchronizer. Downloads have no client timeout unless
// one is configured through WithSyncerHTTPClient.
func NewSyncer(opts ...SyncerOption) *Syncer {
	s := &Syncer{
		userAgent: DefaultUserAgent,
		atomic:    true,
		reporter:  nopReporter{},
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TargetName returns the file name an asset is installed under: the asset
// name, or the last segment of its download URL when the name is empty.
func TargetName(asset ReleaseAsset) (string, error) {
	name := asset.Name
	if name == "" {
		if u, err := url.Parse(asset.BrowserDownloadURL); err == nil {
			name = path.Base(u.Path)
		}
	}
	if name == "" || name == "." || name == ".." || name == "/" ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", appErrors.New(appErrors.CodeWriteFailed, fmt.Sprintf("asset name %q is not a plain file name", name), ErrInvalidAssetName)
	}
	return name, nil
}

// Sync installs asset into location, replacing the old file that matches
// pattern. An existing target file means the mod is already current and
// nothing is downloaded. location must already exist.
func (s *Syncer) Sync(ctx context.Context, location string, pattern domain.Pattern, asset ReleaseAsset) (SyncResult, error) {
	name, err := TargetName(asset)
	if err != nil {
		return SyncResult{Outcome: OutcomeFailed}, err
	}
	target := filepath.Join(location, name)
	result := SyncResult{Path: target}

	if _, err := os.Lstat(target); err == nil {
		result.Outcome = OutcomeAlreadyCurrent
		return result, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		result.Outcome = OutcomeFailed
		return result, writeError(target, err)
	}

	if s.atomic {
		err = s.installAtomic(ctx, location, name, pattern, asset, &result)
	} else {
		err = s.installInPlace(ctx, location, name, pattern, asset, &result)
	}
	if err != nil {
		result.Outcome = OutcomeFailed
		return result, err
	}

	result.Outcome = OutcomeUpdated
	debug.Event().
		Str("target", target).
		Str("removed", result.Removed).
		Int64("bytes", result.Bytes).
		Bool("atomic", s.atomic).
		Msg("asset installed")
	return result, nil
}

// installAtomic streams the download to a temp file beside the target, then
// removes the old file and renames the temp file into place.
func (s *Syncer) installAtomic(ctx context.Context, location, name string, pattern domain.Pattern, asset ReleaseAsset, result *SyncResult) error {
	tmp, err := os.CreateTemp(location, tempPattern)
	if err != nil {
		return writeError(location, fmt.Errorf("create temp file: %w", err))
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	n, err := s.download(ctx, asset, tmp)
	if err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return writeError(tmpPath, err)
	}
	result.Bytes = n

	if err := s.removeOld(location, pattern, []string{name, filepath.Base(tmpPath)}, result); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, result.Path); err != nil {
		return writeError(result.Path, fmt.Errorf("move into place: %w", err))
	}
	committed = true
	return nil
}

// installInPlace fetches the whole asset, deletes the old file and writes the
// new one directly. An interrupted write leaves a partial file behind.
func (s *Syncer) installInPlace(ctx context.Context, location, name string, pattern domain.Pattern, asset ReleaseAsset, result *SyncResult) error {
	var buf bytes.Buffer
	if _, err := s.download(ctx, asset, &buf); err != nil {
		return err
	}

	if err := s.removeOld(location, pattern, []string{name}, result); err != nil {
		return err
	}

	//nolint:gosec // G304: target is a plain file name inside the group directory
	f, err := os.Create(result.Path)
	if err != nil {
		return writeError(result.Path, err)
	}
	n, err := f.Write(buf.Bytes())
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return writeError(result.Path, err)
	}
	result.Bytes = int64(n)
	return nil
}

func (s *Syncer) download(ctx context.Context, asset ReleaseAsset, dst io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.BrowserDownloadURL, nil)
	if err != nil {
		return 0, downloadError(asset, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, downloadError(asset, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, downloadError(asset, fmt.Errorf("status %d", resp.StatusCode))
	}

	s.reporter.Start(asset.Name, resp.ContentLength)
	defer s.reporter.Finish()

	n, err := io.Copy(dst, &progressReader{r: resp.Body, report: s.reporter.Advance})
	if err != nil {
		return n, downloadError(asset, err)
	}
	return n, nil
}

// removeOld deletes the first regular file in location, by name order,
// matching pattern. Names in exclude are never touched. Finding nothing is
// not an error.
func (s *Syncer) removeOld(location string, pattern domain.Pattern, exclude []string, result *SyncResult) error {
	matches, err := FindInstalled(location, pattern, exclude...)
	if err != nil {
		return writeError(location, err)
	}
	if len(matches) == 0 {
		return nil
	}

	old := filepath.Join(location, matches[0])
	if err := os.Remove(old); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return writeError(old, fmt.Errorf("remove old file: %w", err))
	}
	result.Removed = matches[0]
	result.Leftover = matches[1:]
	return nil
}

// FindInstalled lists regular files in dir whose names match pattern, sorted
// by name, skipping the excluded names.
func FindInstalled(dir string, pattern domain.Pattern, exclude ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		skip[name] = struct{}{}
	}

	var out []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if _, ok := skip[name]; ok {
			continue
		}
		if pattern.Match(name) {
			out = append(out, name)
		}
	}
	return out, nil
}

type progressReader struct {
	r      io.Reader
	report func(int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.report(int64(n))
	}
	return n, err
}

func downloadError(asset ReleaseAsset, err error) error {
	return appErrors.New(
		appErrors.CodeDownloadFailed,
		fmt.Sprintf("download of %s failed: %v", asset.Name, err),
		fmt.Errorf("%w: %v", ErrDownloadFailed, err),
	)
}

func writeError(path string, err error) error {
	return appErrors.New(appErrors.CodeWriteFailed, fmt.Sprintf("write %s: %v", path, err), err)
}
