package model

// Test statuses accepted by the panel. The empty string means "not tested";
// a result where every test carries an empty status and empty notes is an
// empty report and is never uploaded.
const (
	StatusNone        = ""
	StatusWorking     = "Working"
	StatusSemiWorking = "Semi-working"
	StatusNotWorking  = "Not working"
	StatusNA          = "N/A"
)

// ValidStatus reports whether s is one of the accepted test statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusNone, StatusWorking, StatusSemiWorking, StatusNotWorking, StatusNA:
		return true
	}
	return false
}

// TestResult is the recorded outcome of one test within one version.
type TestResult struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

// ResultSet maps test key to recorded result for a single version.
type ResultSet map[string]TestResult

// Empty reports whether every entry has an empty status and empty notes.
func (r ResultSet) Empty() bool {
	for _, tr := range r {
		if tr.Status != "" || tr.Notes != "" {
			return false
		}
	}
	return true
}

// Meta identifies the submitter of a report document.
type Meta struct {
	Tester     string `json:"tester"`
	TestType   string `json:"test_type"`
	CommitHash string `json:"commit_hash,omitempty"`
}

// LogAttachment is one compressed log file carried inside a submission.
// Data is the base64 encoding of the zlib-compressed file content, the
// format the panel's PHP side decompresses with gzuncompress.
type LogAttachment struct {
	Filename string `json:"filename"`
	// File modification time, formatted "2006-01-02 15:04:05"
	Datetime       string `json:"datetime"`
	SizeOriginal   int    `json:"size_original"`
	SizeCompressed int    `json:"size_compressed"`
	Data           string `json:"data"`
}

// SubmitOutcome is the panel's acknowledgement of an accepted report.
type SubmitOutcome struct {
	ReportID      int    `json:"report_id"`
	ClientVersion string `json:"client_version,omitempty"`
	TestsRecorded int    `json:"tests_recorded"`
	LogsAttached  int    `json:"logs_attached"`
	ViewURL       string `json:"view_url,omitempty"`
}
