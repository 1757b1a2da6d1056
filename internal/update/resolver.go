package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"mmu/internal/debug"
	"mmu/internal/domain"
	appErrors "mmu/internal/errors"
)

// Default configuration values.
const (
	DefaultAPIBaseURL = "https://api.github.com"
	DefaultUserAgent  = "Mozilla/5.0 (compatible; mmu)"
	DefaultTimeout    = 30 * time.Second
)

// Error variables for specific error conditions.
var (
	ErrNetworkFailure = fmt.Errorf("network request failed")
	ErrRateLimited    = fmt.Errorf("rate limited by GitHub API")
	ErrInvalidRepoURL = fmt.Errorf("invalid repository url")
	ErrNoMatchingFile = fmt.Errorf("no matching release asset")
)

// ReleaseAsset represents a downloadable file attached to a release.
// Label and Uploader are never populated from the API response.
type ReleaseAsset struct {
	URL                string    `json:"url"`
	ID                 int64     `json:"id"`
	NodeID             string    `json:"node_id"`
	Name               string    `json:"name"`
	Label              string    `json:"-"`
	Uploader           string    `json:"-"`
	ContentType        string    `json:"content_type"`
	State              string    `json:"state"`
	Size               int64     `json:"size"`
	DownloadCount      int64     `json:"download_count"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	BrowserDownloadURL string    `json:"browser_download_url"`
}

// ReleaseMetadata contains information about a GitHub release.
// Author is never populated from the API response.
type ReleaseMetadata struct {
	URL             string         `json:"url"`
	AssetsURL       string         `json:"assets_url"`
	UploadURL       string         `json:"upload_url"`
	HTMLURL         string         `json:"html_url"`
	ID              int64          `json:"id"`
	Author          string         `json:"-"`
	NodeID          string         `json:"node_id"`
	TagName         string         `json:"tag_name"`
	TargetCommitish string         `json:"target_commitish"`
	Name            string         `json:"name"`
	Draft           bool           `json:"draft"`
	Prerelease      bool           `json:"prerelease"`
	CreatedAt       time.Time      `json:"created_at"`
	PublishedAt     time.Time      `json:"published_at"`
	Assets          []ReleaseAsset `json:"assets"`
	TarballURL      string         `json:"tarball_url"`
	ZipballURL      string         `json:"zipball_url"`
	Body            string         `json:"body"`
}

// Repo identifies a GitHub repository.
type Repo struct {
	Owner string
	Name  string
}

// repoURLRegex must span the whole link: no trailing slash, extra segments or query.
var repoURLRegex = regexp.MustCompile(`^https://github\.com/([A-Za-z-]+)/([A-Za-z-]+)$`)

// ParseRepoURL validates a repository link of the form
// https://github.com/<owner>/<repo>.
func ParseRepoURL(raw string) (Repo, error) {
	m := repoURLRegex.FindStringSubmatch(raw)
	if m == nil {
		return Repo{}, appErrors.New(
			appErrors.CodeInvalidRepoURL,
			fmt.Sprintf("%q is not a https://github.com/<owner>/<repo> link", raw),
			ErrInvalidRepoURL,
		)
	}
	return Repo{Owner: m[1], Name: m[2]}, nil
}

// String returns owner/name.
func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// LatestReleaseURL returns the releases/latest endpoint under baseURL.
func (r Repo) LatestReleaseURL(baseURL string) string {
	return fmt.Sprintf("%s/repos/%s/%s/releases/latest", strings.TrimRight(baseURL, "/"), r.Owner, r.Name)
}

// LatestReleaseURL derives the GitHub API endpoint for a repository link.
func LatestReleaseURL(repoURL string) (string, error) {
	repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return "", err
	}
	return repo.LatestReleaseURL(DefaultAPIBaseURL), nil
}

// Resolution is the outcome of resolving one mod against its latest release.
type Resolution struct {
	Repo    Repo
	Pattern domain.Pattern
	Release *ReleaseMetadata
	Asset   ReleaseAsset
}

// Resolver looks up latest releases on GitHub.
type Resolver struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithHTTPClient sets a custom HTTP client for the resolver.
func WithHTTPClient(client *http.Client) ResolverOption {
	return func(r *Resolver) {
		r.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) ResolverOption {
	return func(r *Resolver) {
		if timeout > 0 {
			r.httpClient.Timeout = timeout
		}
	}
}

// WithUserAgent overrides the User-Agent header. Blank values are ignored.
func WithUserAgent(ua string) ResolverOption {
	return func(r *Resolver) {
		if strings.TrimSpace(ua) != "" {
			r.userAgent = ua
		}
	}
}

// WithAPIBaseURL points the resolver at another API host.
func WithAPIBaseURL(base string) ResolverOption {
	return func(r *Resolver) {
		if base != "" {
			r.baseURL = base
		}
	}
}

// NewResolver creates a release resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		baseURL:   DefaultAPIBaseURL,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve validates the mod's link and pattern, fetches the latest release
// and picks the first asset matching the pattern. Invalid links and patterns
// fail before any network call.
func (r *Resolver) Resolve(ctx context.Context, mod domain.Mod) (*Resolution, error) {
	repo, err := ParseRepoURL(mod.DownloadLink)
	if err != nil {
		return nil, err
	}
	pattern, err := domain.ParsePattern(mod.Pattern)
	if err != nil {
		return nil, err
	}

	release, err := r.LatestRelease(ctx, repo)
	if err != nil {
		return nil, err
	}

	asset, ok := FindAsset(release.Assets, pattern)
	if !ok {
		return nil, appErrors.New(
			appErrors.CodeNoMatchingAsset,
			fmt.Sprintf("no asset matching '%s' in release %s of %s for %s", pattern, release.TagName, repo, mod.Name),
			ErrNoMatchingFile,
		)
	}

	debug.Event().
		Str("mod", mod.Name).
		Str("repo", repo.String()).
		Str("tag", release.TagName).
		Str("asset", asset.Name).
		Msg("release resolved")

	return &Resolution{Repo: repo, Pattern: pattern, Release: release, Asset: asset}, nil
}

// LatestRelease fetches the latest release of repo from the GitHub API.
func (r *Resolver) LatestRelease(ctx context.Context, repo Repo) (*ReleaseMetadata, error) {
	url := repo.LatestReleaseURL(r.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, lookupError(repo, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", r.userAgent)

	debug.Event().Str("url", url).Msg("fetching latest release")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, lookupError(repo, fmt.Errorf("%w: %v", ErrNetworkFailure, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return nil, lookupError(repo, ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, lookupError(repo, fmt.Errorf("%w: status %d", ErrNetworkFailure, resp.StatusCode))
	}

	var release ReleaseMetadata
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, lookupError(repo, fmt.Errorf("decode response: %w", err))
	}

	return &release, nil
}

// FindAsset returns the first asset, in list order, whose bare name matches
// pattern.
func FindAsset(assets []ReleaseAsset, pattern domain.Pattern) (ReleaseAsset, bool) {
	for _, asset := range assets {
		if pattern.Match(asset.Name) {
			return asset, true
		}
	}
	return ReleaseAsset{}, false
}

func lookupError(repo Repo, err error) error {
	return appErrors.New(
		appErrors.CodeReleaseLookup,
		fmt.Sprintf("latest release lookup for %s failed: %v", repo, err),
		err,
	)
}
