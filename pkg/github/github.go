package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	gh "github.com/google/go-github/v39/github"
	"golang.org/x/oauth2"

	"github.com/cyrup-ai/kodegen-release/pkg/retry"
)

// ErrReleaseNotFound is returned when no release exists for a tag.
var ErrReleaseNotFound = errors.New("release not found")

// ErrAlreadyExists is returned when the remote object already exists; the
// conflict cleaner handles it, the user never sees it.
var ErrAlreadyExists = errors.New("remote object already exists")

// ErrNoToken is returned when neither GH_TOKEN nor GITHUB_TOKEN is set.
var ErrNoToken = errors.New("no GitHub token found (set GH_TOKEN or GITHUB_TOKEN)")

// Release is the subset of the remote release object the pipeline tracks.
type Release struct {
	ID      int64
	TagName string
	Name    string
	Draft   bool
	URL     string
}

// Asset is one uploaded release asset.
type Asset struct {
	Name string
	URL  string
}

// Client is the release-host contract.
type Client interface {
	GetReleaseByTag(ctx context.Context, tag string) (*Release, error)
	CreateDraftRelease(ctx context.Context, tag, name, body string) (*Release, error)
	PublishRelease(ctx context.Context, releaseID int64) (*Release, error)
	DeleteRelease(ctx context.Context, releaseID int64) error
	ListAssets(ctx context.Context, releaseID int64) ([]Asset, error)
	UploadAsset(ctx context.Context, releaseID int64, path, label string) (*Asset, error)
	DeleteTagRef(ctx context.Context, tag string) error
}

// TokenFromEnv resolves the release-host token, GH_TOKEN first.
func TokenFromEnv() (string, error) {
	if tok := os.Getenv("GH_TOKEN"); tok != "" {
		return tok, nil
	}
	if tok := os.Getenv("GITHUB_TOKEN"); tok != "" {
		return tok, nil
	}
	return "", ErrNoToken
}

// APIClient implements Client over the GitHub REST API.
type APIClient struct {
	owner string
	repo  string
	gh    *gh.Client
}

// NewFromEnv builds an authenticated client for owner/repo.
func NewFromEnv(ctx context.Context, owner, repo string) (*APIClient, error) {
	token, err := TokenFromEnv()
	if err != nil {
		return nil, err
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &APIClient{
		owner: owner,
		repo:  repo,
		gh:    gh.NewClient(oauth2.NewClient(ctx, ts)),
	}, nil
}

// NewWithClient wraps an existing go-github client (used by tests against
// httptest servers).
func NewWithClient(owner, repo string, client *gh.Client) *APIClient {
	return &APIClient{owner: owner, repo: repo, gh: client}
}

func (c *APIClient) GetReleaseByTag(ctx context.Context, tag string) (*Release, error) {
	rel, resp, err := c.gh.Repositories.GetReleaseByTag(ctx, c.owner, c.repo, tag)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, ErrReleaseNotFound
		}
		return nil, classify(err, "getting release by tag")
	}
	return fromRepositoryRelease(rel), nil
}

func (c *APIClient) CreateDraftRelease(ctx context.Context, tag, name, body string) (*Release, error) {
	rel, _, err := c.gh.Repositories.CreateRelease(ctx, c.owner, c.repo, &gh.RepositoryRelease{
		TagName: gh.String(tag),
		Name:    gh.String(name),
		Body:    gh.String(body),
		Draft:   gh.Bool(true),
	})
	if err != nil {
		return nil, classify(err, "creating draft release")
	}
	return fromRepositoryRelease(rel), nil
}

func (c *APIClient) PublishRelease(ctx context.Context, releaseID int64) (*Release, error) {
	rel, _, err := c.gh.Repositories.EditRelease(ctx, c.owner, c.repo, releaseID, &gh.RepositoryRelease{
		Draft: gh.Bool(false),
	})
	if err != nil {
		return nil, classify(err, "publishing release")
	}
	return fromRepositoryRelease(rel), nil
}

func (c *APIClient) DeleteRelease(ctx context.Context, releaseID int64) error {
	_, err := c.gh.Repositories.DeleteRelease(ctx, c.owner, c.repo, releaseID)
	if err != nil {
		return classify(err, "deleting release")
	}
	return nil
}

func (c *APIClient) ListAssets(ctx context.Context, releaseID int64) ([]Asset, error) {
	var all []Asset
	opts := &gh.ListOptions{PerPage: 100}
	for {
		assets, resp, err := c.gh.Repositories.ListReleaseAssets(ctx, c.owner, c.repo, releaseID, opts)
		if err != nil {
			return nil, classify(err, "listing release assets")
		}
		for _, a := range assets {
			all = append(all, Asset{Name: a.GetName(), URL: a.GetBrowserDownloadURL()})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (c *APIClient) UploadAsset(ctx context.Context, releaseID int64, path, label string) (*Asset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening asset %s: %w", path, err)
	}
	defer f.Close()

	asset, _, err := c.gh.Repositories.UploadReleaseAsset(ctx, c.owner, c.repo, releaseID,
		&gh.UploadOptions{
			Name:  sanitizeAssetName(path),
			Label: label,
		}, f)
	if err != nil {
		return nil, classify(err, "uploading release asset")
	}
	return &Asset{Name: asset.GetName(), URL: asset.GetBrowserDownloadURL()}, nil
}

func (c *APIClient) DeleteTagRef(ctx context.Context, tag string) error {
	_, err := c.gh.Git.DeleteRef(ctx, c.owner, c.repo, "tags/"+tag)
	if err != nil {
		return classify(err, "deleting tag ref")
	}
	return nil
}

func fromRepositoryRelease(rel *gh.RepositoryRelease) *Release {
	return &Release{
		ID:      rel.GetID(),
		TagName: rel.GetTagName(),
		Name:    rel.GetName(),
		Draft:   rel.GetDraft(),
		URL:     rel.GetHTMLURL(),
	}
}

// sanitizeAssetName derives the asset name from the file base name. GitHub
// rejects names with path separators or spaces.
func sanitizeAssetName(path string) string {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	return strings.ReplaceAll(base, " ", ".")
}

// classify maps API failures into the retry taxonomy: rate limits carry their
// retry-after, 5xx and transport failures are transient, 422 already_exists
// is the conflict sentinel, and everything else is left unclassified (fatal
// by default).
func classify(err error, op string) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		wait := time.Until(rateErr.Rate.Reset.Time)
		if wait < time.Second {
			wait = time.Second
		}
		return &retry.RateLimited{
			Err:        fmt.Errorf("%s: rate limited: %w", op, err),
			RetryAfter: wait,
		}
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		wait := time.Minute
		if abuseErr.RetryAfter != nil {
			wait = *abuseErr.RetryAfter
		}
		return &retry.RateLimited{
			Err:        fmt.Errorf("%s: secondary rate limit: %w", op, err),
			RetryAfter: wait,
		}
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		code := respErr.Response.StatusCode
		switch {
		case code >= 500:
			return retry.MarkTransient(fmt.Errorf("%s: %w", op, err))
		case code == http.StatusUnprocessableEntity && hasAlreadyExists(respErr):
			return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	// Transport-level failure (DNS, reset, timeout): recoverable.
	return retry.MarkTransient(fmt.Errorf("%s: %w", op, err))
}

func hasAlreadyExists(respErr *gh.ErrorResponse) bool {
	for _, e := range respErr.Errors {
		if e.Code == "already_exists" {
			return true
		}
	}
	return false
}
