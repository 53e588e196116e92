package panel

import (
	"context"
	"net/http"
	"net/url"

	"github.com/panelsync/panelsync/model"
)

// VersionOptions controls a Versions fetch.
type VersionOptions struct {
	// Include disabled versions
	All bool
	// Include per-version known-issue notices
	IncludeNotices bool
	// Skip the cache fallback and fail hard when offline
	NoCache bool
}

// TestOptions controls a Tests fetch.
type TestOptions struct {
	// Include disabled tests
	All bool
	// Fetch the version-specific template instead of the general list
	ClientVersion string
	// Skip the cache fallback and fail hard when offline
	NoCache bool
}

// TestCatalog is the test list for a session: either the general catalog
// or a version-specific template with its skip keys.
type TestCatalog struct {
	Tests      []model.TestSummary
	Categories []model.TestCategory
	SkipTests  []string
}

// Versions fetches the client version list. While the panel is unreachable
// the cached list is returned together with ErrCachedData, unless NoCache
// is set.
func (c *Client) Versions(ctx context.Context, opts VersionOptions) ([]model.VersionSummary, error) {
	query := url.Values{}
	if opts.All {
		query.Set("all", "1")
	}
	if opts.IncludeNotices {
		query.Set("notifications", "1")
	}

	resp, err := c.request(ctx, http.MethodGet, "/api/versions.php", query, nil)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to fetch versions")
		c.setOnline(false)
		return c.cachedVersions(opts.NoCache, err)
	}

	if resp.status != http.StatusOK {
		c.logger.Warn().Int("status", resp.status).Msg("Versions request rejected")
		return c.cachedVersions(opts.NoCache, &RequestError{StatusCode: resp.status, Message: statusMessage(resp.status)})
	}
	if resp.empty() {
		c.logger.Warn().Msg("Empty response body from versions API")
		return c.cachedVersions(opts.NoCache, &RequestError{StatusCode: resp.status, Message: "Empty response from server"})
	}

	var env struct {
		Success  bool                   `json:"success"`
		Error    string                 `json:"error"`
		Versions []model.VersionSummary `json:"versions"`
	}
	if err := resp.decode(&env); err != nil {
		c.logger.Warn().Err(err).Msg("Invalid JSON from versions API")
		return c.cachedVersions(opts.NoCache, &RequestError{StatusCode: resp.status, Message: "Invalid JSON response from server"})
	}
	if !env.Success {
		return c.cachedVersions(opts.NoCache, &RequestError{StatusCode: resp.status, Message: env.Error})
	}

	c.setOnline(true)
	c.cache.SetVersions(env.Versions, "")
	if err := c.cache.Save(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist version cache")
	}
	return env.Versions, nil
}

func (c *Client) cachedVersions(noCache bool, cause error) ([]model.VersionSummary, error) {
	if noCache {
		return nil, cause
	}
	if cached := c.cache.Versions(); len(cached) > 0 {
		c.logger.Info().Int("count", len(cached)).Msg("Using cached versions")
		return cached, ErrCachedData
	}
	return nil, ErrNoCachedData
}

// Tests fetches the test catalog, version-specific when ClientVersion is
// set. While the panel is unreachable the cached catalog is returned
// together with ErrCachedData, unless NoCache is set.
func (c *Client) Tests(ctx context.Context, opts TestOptions) (*TestCatalog, error) {
	query := url.Values{}
	if opts.All {
		query.Set("all", "1")
	}
	if opts.ClientVersion != "" {
		query.Set("client_version", opts.ClientVersion)
	}

	resp, err := c.request(ctx, http.MethodGet, "/api/tests.php", query, nil)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to fetch tests")
		c.setOnline(false)
		return c.cachedTests(opts.ClientVersion, opts.NoCache, err)
	}

	if resp.status != http.StatusOK {
		c.logger.Warn().Int("status", resp.status).Msg("Tests request rejected")
		return c.cachedTests(opts.ClientVersion, opts.NoCache, &RequestError{StatusCode: resp.status, Message: statusMessage(resp.status)})
	}
	if resp.empty() {
		c.logger.Warn().Msg("Empty response body from tests API")
		return c.cachedTests(opts.ClientVersion, opts.NoCache, &RequestError{StatusCode: resp.status, Message: "Empty response from server"})
	}

	var env struct {
		Success    bool                 `json:"success"`
		Error      string               `json:"error"`
		Tests      []model.TestSummary  `json:"tests"`
		Categories []model.TestCategory `json:"categories"`
		SkipTests  []string             `json:"skip_tests"`
	}
	if err := resp.decode(&env); err != nil {
		c.logger.Warn().Err(err).Msg("Invalid JSON from tests API")
		return c.cachedTests(opts.ClientVersion, opts.NoCache, &RequestError{StatusCode: resp.status, Message: "Invalid JSON response from server"})
	}
	if !env.Success {
		return c.cachedTests(opts.ClientVersion, opts.NoCache, &RequestError{StatusCode: resp.status, Message: env.Error})
	}

	c.setOnline(true)
	if opts.ClientVersion != "" {
		c.cache.SetVersionTemplate(opts.ClientVersion, model.VersionTemplate{
			Tests:    env.Tests,
			SkipKeys: env.SkipTests,
		})
	} else {
		c.cache.SetTests(env.Tests, env.Categories, "")
	}
	if err := c.cache.Save(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist test cache")
	}

	return &TestCatalog{
		Tests:      env.Tests,
		Categories: env.Categories,
		SkipTests:  env.SkipTests,
	}, nil
}

func (c *Client) cachedTests(clientVersion string, noCache bool, cause error) (*TestCatalog, error) {
	if noCache {
		return nil, cause
	}
	if clientVersion != "" {
		if tmpl, ok := c.cache.VersionTemplate(clientVersion); ok && len(tmpl.Tests) > 0 {
			c.logger.Info().Str("version", clientVersion).Int("count", len(tmpl.Tests)).
				Msg("Using cached version template")
			return &TestCatalog{Tests: tmpl.Tests, SkipTests: tmpl.SkipKeys}, ErrCachedData
		}
	}
	if tests := c.cache.Tests(); len(tests) > 0 {
		c.logger.Info().Int("count", len(tests)).Msg("Using cached tests")
		return &TestCatalog{Tests: tests, Categories: c.cache.Categories()}, ErrCachedData
	}
	return nil, ErrNoCachedData
}

// VersionNotices fetches known-issue notices for one version, oldest first.
func (c *Client) VersionNotices(ctx context.Context, versionID, commitHash string) ([]model.VersionNotice, error) {
	body := map[string]any{
		"action":     "get_notifications",
		"version_id": versionID,
	}
	if commitHash != "" {
		body["commit_hash"] = commitHash
	}

	resp, err := c.request(ctx, http.MethodPost, "/api/versions.php", nil, body)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, &RequestError{StatusCode: resp.status, Message: resp.errorField()}
	}

	var env struct {
		Success       bool                  `json:"success"`
		Error         string                `json:"error"`
		Notifications []model.VersionNotice `json:"notifications"`
	}
	if err := resp.decode(&env); err != nil {
		return nil, &RequestError{StatusCode: resp.status, Message: "Invalid JSON response from server"}
	}
	if !env.Success {
		return nil, &RequestError{StatusCode: resp.status, Message: env.Error}
	}
	return env.Notifications, nil
}

// VersionNoticesBatch fetches notices for several versions in one exchange.
func (c *Client) VersionNoticesBatch(ctx context.Context, versionIDs []string, commitHash string) (map[string][]model.VersionNotice, error) {
	body := map[string]any{
		"action":      "get_notifications_batch",
		"version_ids": versionIDs,
	}
	if commitHash != "" {
		body["commit_hash"] = commitHash
	}

	resp, err := c.request(ctx, http.MethodPost, "/api/versions.php", nil, body)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, &RequestError{StatusCode: resp.status, Message: resp.errorField()}
	}

	var env struct {
		Success bool                             `json:"success"`
		Error   string                           `json:"error"`
		ByVer   map[string][]model.VersionNotice `json:"notifications_by_version"`
	}
	if err := resp.decode(&env); err != nil {
		return nil, &RequestError{StatusCode: resp.status, Message: "Invalid JSON response from server"}
	}
	if !env.Success {
		return nil, &RequestError{StatusCode: resp.status, Message: env.Error}
	}
	return env.ByVer, nil
}
