package model

// ReconcileAction says what the panel wants done with a version's report
// after comparing content digests.
type ReconcileAction string

const (
	// ActionSkip: digests match, nothing to upload.
	ActionSkip ReconcileAction = "skip"
	// ActionUpdate: the panel holds a different digest; upload a new revision.
	ActionUpdate ReconcileAction = "update"
	// ActionCreate: the panel has no report for this version.
	ActionCreate ReconcileAction = "create"
)

// VersionCheck is the per-version outcome of one hash reconciliation
// exchange. Transient: consumed immediately by the submission pipeline.
type VersionCheck struct {
	Exists        bool            `json:"exists"`
	HashMatches   bool            `json:"hash_matches"`
	ServerHash    string          `json:"server_hash,omitempty"`
	ReportID      int             `json:"report_id,omitempty"`
	RevisionCount int             `json:"revision_count,omitempty"`
	Action        ReconcileAction `json:"action"`
}

// Retest entry types.
const (
	RetestTypeRetest = "retest"
	RetestTypeFixed  = "fixed"
)

// RetestItem is one entry of the panel's retest queue: a request that a
// previously reported test be run again, or a notice that a reported
// failure was fixed.
type RetestItem struct {
	Type          string `json:"type"`
	ID            int    `json:"id"`
	TestKey       string `json:"test_key"`
	TestName      string `json:"test_name"`
	ClientVersion string `json:"client_version"`
	Reason        string `json:"reason"`
	// Whether the retest applies to the latest revision only
	LatestRevision bool `json:"latest_revision"`
	// Fix commit, for "fixed" entries
	CommitHash string `json:"commit_hash,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
	// Admin notes explaining what to retest
	Notes          string `json:"notes,omitempty"`
	ReportID       int    `json:"report_id,omitempty"`
	ReportRevision *int   `json:"report_revision,omitempty"`
	// Commit the test was originally submitted against
	TestedCommitHash string `json:"tested_commit_hash,omitempty"`
}

// Notification is a user-facing message from the panel.
type Notification struct {
	ID int `json:"id"`
	// One of "retest", "fixed", "info"
	Type          string `json:"type"`
	ReportID      int    `json:"report_id,omitempty"`
	TestKey       string `json:"test_key,omitempty"`
	ClientVersion string `json:"client_version,omitempty"`
	Title         string `json:"title"`
	Message       string `json:"message"`
	Notes         string `json:"notes,omitempty"`
	IsRead        bool   `json:"is_read"`
	CreatedAt     string `json:"created_at,omitempty"`
	ReadAt        string `json:"read_at,omitempty"`
}

// FlagSummary is the lightweight poll result used by background checking.
type FlagSummary struct {
	Count int              `json:"count"`
	Flags []map[string]any `json:"flags,omitempty"`
}

// UserInfo describes the authenticated panel user.
type UserInfo struct {
	Username string `json:"username"`
	// Known emulator revisions, newest first
	Revisions      []Revision `json:"revisions,omitempty"`
	RevisionsCount int        `json:"revisions_count"`
}

// Revision is one emulator commit known to the panel.
type Revision struct {
	SHA   string        `json:"sha"`
	Notes string        `json:"notes,omitempty"`
	Files RevisionFiles `json:"files"`
	// Unix timestamp of the commit
	TS int64 `json:"ts"`
	// Panel-formatted datetime string
	Datetime string `json:"datetime,omitempty"`
}

// RevisionFiles lists paths touched by a revision.
type RevisionFiles struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []string `json:"modified"`
}

// ReportLog describes a log file attached to a panel report.
type ReportLog struct {
	ID             int    `json:"id"`
	Filename       string `json:"filename"`
	LogDatetime    string `json:"log_datetime"`
	SizeOriginal   int    `json:"size_original"`
	SizeCompressed int    `json:"size_compressed"`
	CreatedAt      string `json:"created_at,omitempty"`
}
