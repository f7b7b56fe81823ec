package github

import (
	"errors"
	"net/http"
	"testing"
	"time"

	gh "github.com/google/go-github/v39/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrup-ai/kodegen-release/pkg/retry"
)

func respWithStatus(code int) *http.Response {
	return &http.Response{StatusCode: code, Request: &http.Request{}}
}

func TestClassifyServerErrorIsTransient(t *testing.T) {
	err := classify(&gh.ErrorResponse{Response: respWithStatus(502)}, "creating draft release")
	assert.True(t, retry.Recoverable(err))
}

func TestClassifyAlreadyExists(t *testing.T) {
	err := classify(&gh.ErrorResponse{
		Response: respWithStatus(422),
		Errors:   []gh.Error{{Code: "already_exists"}},
	}, "creating draft release")
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.False(t, retry.Recoverable(err), "conflicts are handled by the cleaner, not the retry loop")
}

func TestClassifyValidationErrorIsFatal(t *testing.T) {
	err := classify(&gh.ErrorResponse{
		Response: respWithStatus(422),
		Errors:   []gh.Error{{Code: "invalid"}},
	}, "creating draft release")
	assert.False(t, retry.Recoverable(err))
}

func TestClassifyAbuseRateLimitCarriesRetryAfter(t *testing.T) {
	after := 42 * time.Second
	err := classify(&gh.AbuseRateLimitError{RetryAfter: &after}, "uploading release asset")

	var limited *retry.RateLimited
	require.True(t, errors.As(err, &limited))
	assert.Equal(t, after, limited.RetryAfter)
}

func TestClassifyTransportErrorIsTransient(t *testing.T) {
	err := classify(errors.New("dial tcp: connection reset by peer"), "listing release assets")
	assert.True(t, retry.Recoverable(err))
}

func TestTokenFromEnvPrecedence(t *testing.T) {
	t.Setenv("GH_TOKEN", "primary")
	t.Setenv("GITHUB_TOKEN", "secondary")
	tok, err := TokenFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "primary", tok)

	t.Setenv("GH_TOKEN", "")
	tok, err = TokenFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "secondary", tok)

	t.Setenv("GITHUB_TOKEN", "")
	_, err = TokenFromEnv()
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestSanitizeAssetName(t *testing.T) {
	assert.Equal(t, "kodegen_0.1.1_amd64.deb", sanitizeAssetName("/tmp/target/kodegen_0.1.1_amd64.deb"))
	assert.Equal(t, "My.App.dmg", sanitizeAssetName("/tmp/My App.dmg"))
}
