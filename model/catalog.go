package model

// VersionSummary is a flat projection of a panel client version. It is a
// read cache only, never authoritative: a successful fetch replaces the
// whole list.
type VersionSummary struct {
	// Version id string (e.g. a build identifier)
	ID string `json:"id"`
	// Package names shipped in this version
	Packages []string `json:"packages,omitempty"`
	// Build date/time as reported by the panel
	SteamDate string `json:"steam_date,omitempty"`
	SteamTime string `json:"steam_time,omitempty"`
	// Test keys the panel marks as not applicable for this version
	SkipTests []string `json:"skip_tests,omitempty"`
	// Optional display override for the id
	DisplayName string `json:"display_name,omitempty"`
	SortOrder   int    `json:"sort_order,omitempty"`
	IsEnabled   bool   `json:"is_enabled"`
	// Known-issue notices attached to this version
	Notices     []VersionNotice `json:"notifications,omitempty"`
	NoticeCount int             `json:"notification_count,omitempty"`
}

// TestSummary is a flat projection of a panel test definition.
type TestSummary struct {
	// Stable key identifying the test (the unit results are keyed by)
	TestKey     string `json:"test_key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Category id; nil when the panel left the test uncategorized
	CategoryID   *int   `json:"category_id,omitempty"`
	CategoryName string `json:"category_name,omitempty"`
	SortOrder    int    `json:"sort_order,omitempty"`
	IsEnabled    bool   `json:"is_enabled"`
}

// TestCategory groups tests for display ordering.
type TestCategory struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	SortOrder int    `json:"sort_order,omitempty"`
}

// VersionNotice is a known-issue notice published for a client version.
type VersionNotice struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Message    string `json:"message"`
	CommitHash string `json:"commit_hash,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
	CreatedBy  string `json:"created_by,omitempty"`
}
