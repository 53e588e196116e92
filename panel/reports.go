package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"

	"github.com/panelsync/panelsync/logpack"
	"github.com/panelsync/panelsync/model"
)

// Submit posts a prepared submission document. The payload must already
// have canonicalized notes; Submit sends it verbatim. A transport failure
// comes back wrapped in ErrUnreachable so the caller can queue the payload
// instead of dropping it.
func (c *Client) Submit(ctx context.Context, payload json.RawMessage) (*model.SubmitOutcome, error) {
	resp, err := c.request(ctx, http.MethodPost, "/api/submit.php", nil, payload)
	if err != nil {
		c.setOnline(false)
		return nil, err
	}

	if resp.status != http.StatusCreated {
		return nil, &RequestError{StatusCode: resp.status, Message: resp.errorField()}
	}
	c.setOnline(true)

	var env struct {
		Reports []model.SubmitOutcome `json:"reports"`
		model.SubmitOutcome
	}
	if err := resp.decode(&env); err != nil {
		// Accepted but unparseable acknowledgement; the report is in.
		c.logger.Warn().Err(err).Msg("Could not decode submit acknowledgement")
		return &model.SubmitOutcome{}, nil
	}
	if len(env.Reports) > 0 {
		return &env.Reports[0], nil
	}
	// Legacy single-report response with flat fields
	return &env.SubmitOutcome, nil
}

// CheckHashes asks the panel what to do with each version's report given
// its content digest: skip it, update an existing report, or create a new
// one. Versions the panel has never seen come back as create.
func (c *Client) CheckHashes(ctx context.Context, hashes map[string]string, meta model.Meta) (map[string]model.VersionCheck, error) {
	body := map[string]any{
		"hashes":    hashes,
		"tester":    meta.Tester,
		"test_type": meta.TestType,
	}
	if meta.CommitHash != "" {
		body["commit_hash"] = meta.CommitHash
	}

	resp, err := c.request(ctx, http.MethodPost, "/api/check_hash.php", nil, body)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, &RequestError{StatusCode: resp.status, Message: resp.errorField()}
	}

	var env struct {
		Success bool                          `json:"success"`
		Error   string                        `json:"error"`
		Results map[string]model.VersionCheck `json:"results"`
	}
	if err := resp.decode(&env); err != nil {
		return nil, &RequestError{StatusCode: resp.status, Message: "Invalid JSON response from server"}
	}
	if !env.Success {
		return nil, &RequestError{StatusCode: resp.status, Message: env.Error}
	}
	return env.Results, nil
}

// RetestQueue fetches pending retest assignments, optionally filtered to
// one client version.
func (c *Client) RetestQueue(ctx context.Context, clientVersion string) ([]model.RetestItem, error) {
	query := url.Values{}
	if clientVersion != "" {
		query.Set("client_version", clientVersion)
	}

	resp, err := c.request(ctx, http.MethodGet, "/api/retests.php", query, nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, &RequestError{StatusCode: resp.status, Message: statusMessage(resp.status)}
	}

	var env struct {
		Success     bool               `json:"success"`
		Error       string             `json:"error"`
		RetestQueue []model.RetestItem `json:"retest_queue"`
	}
	if err := resp.decode(&env); err != nil {
		return nil, &RequestError{StatusCode: resp.status, Message: "Invalid JSON response from server"}
	}
	if !env.Success {
		return nil, &RequestError{StatusCode: resp.status, Message: env.Error}
	}
	return env.RetestQueue, nil
}

// MarkRetestDone tells the panel a retest assignment was completed. For
// fixed entries newStatus carries the fresh test outcome.
func (c *Client) MarkRetestDone(ctx context.Context, item model.RetestItem, newStatus string) error {
	body := map[string]any{
		"type": item.Type,
		"id":   item.ID,
	}
	if newStatus != "" {
		body["new_status"] = newStatus
	}
	return c.postSuccess(ctx, "/api/retests.php", body)
}

// CheckFlags is the lightweight background poll for unacknowledged flags.
func (c *Client) CheckFlags(ctx context.Context) (model.FlagSummary, error) {
	resp, err := c.request(ctx, http.MethodGet, "/api/flag_check.php", nil, nil)
	if err != nil {
		return model.FlagSummary{}, err
	}
	if resp.status != http.StatusOK {
		return model.FlagSummary{}, &RequestError{StatusCode: resp.status, Message: statusMessage(resp.status)}
	}

	var env struct {
		Success bool             `json:"success"`
		Error   string           `json:"error"`
		Count   int              `json:"count"`
		Flags   []map[string]any `json:"flags"`
	}
	if err := resp.decode(&env); err != nil {
		return model.FlagSummary{}, &RequestError{StatusCode: resp.status, Message: "Invalid JSON response from server"}
	}
	if !env.Success {
		return model.FlagSummary{}, &RequestError{StatusCode: resp.status, Message: env.Error}
	}
	return model.FlagSummary{Count: env.Count, Flags: env.Flags}, nil
}

// AcknowledgeFlag dismisses a flag so it stops showing up in polls.
func (c *Client) AcknowledgeFlag(ctx context.Context, flagType string, id int) error {
	return c.postSuccess(ctx, "/api/flag_check.php", map[string]any{
		"type": flagType,
		"id":   id,
	})
}

// UserInfo fetches the authenticated user and the revisions known to the
// panel, newest first.
func (c *Client) UserInfo(ctx context.Context) (*model.UserInfo, error) {
	resp, err := c.request(ctx, http.MethodGet, "/api/user.php", nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, &RequestError{StatusCode: resp.status, Message: statusMessage(resp.status)}
	}

	var env struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		User    struct {
			Username string `json:"username"`
		} `json:"user"`
		Revisions map[string]struct {
			Notes    string              `json:"notes"`
			Files    model.RevisionFiles `json:"files"`
			TS       int64               `json:"ts"`
			Datetime string              `json:"datetime"`
		} `json:"revisions"`
		RevisionsCount int `json:"revisions_count"`
	}
	if err := resp.decode(&env); err != nil {
		return nil, &RequestError{StatusCode: resp.status, Message: "Invalid JSON response from server"}
	}
	if !env.Success {
		return nil, &RequestError{StatusCode: resp.status, Message: env.Error}
	}

	revisions := make([]model.Revision, 0, len(env.Revisions))
	for sha, r := range env.Revisions {
		revisions = append(revisions, model.Revision{
			SHA:      sha,
			Notes:    r.Notes,
			Files:    r.Files,
			TS:       r.TS,
			Datetime: r.Datetime,
		})
	}
	sort.Slice(revisions, func(i, j int) bool { return revisions[i].TS > revisions[j].TS })

	count := env.RevisionsCount
	if count == 0 {
		count = len(revisions)
	}
	return &model.UserInfo{
		Username:       env.User.Username,
		Revisions:      revisions,
		RevisionsCount: count,
	}, nil
}

// Notifications fetches user notifications and the unread count.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool, limit int) ([]model.Notification, int, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if unreadOnly {
		query.Set("unread", "true")
	}

	resp, err := c.request(ctx, http.MethodGet, "/api/notifications.php", query, nil)
	if err != nil {
		return nil, 0, err
	}
	if resp.status != http.StatusOK {
		return nil, 0, &RequestError{StatusCode: resp.status, Message: statusMessage(resp.status)}
	}

	var env struct {
		Success       bool                 `json:"success"`
		Error         string               `json:"error"`
		UnreadCount   int                  `json:"unread_count"`
		Notifications []model.Notification `json:"notifications"`
	}
	if err := resp.decode(&env); err != nil {
		return nil, 0, &RequestError{StatusCode: resp.status, Message: "Invalid JSON response from server"}
	}
	if !env.Success {
		return nil, 0, &RequestError{StatusCode: resp.status, Message: env.Error}
	}
	return env.Notifications, env.UnreadCount, nil
}

// MarkNotificationRead marks one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id int) error {
	return c.postSuccess(ctx, "/api/notifications.php", map[string]any{
		"action":          "mark_read",
		"notification_id": id,
	})
}

// MarkAllNotificationsRead marks every notification as read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.postSuccess(ctx, "/api/notifications.php", map[string]any{
		"action": "mark_all_read",
	})
}

// ReportLogs lists the log files attached to a report, without data.
func (c *Client) ReportLogs(ctx context.Context, reportID int) ([]model.ReportLog, error) {
	query := url.Values{}
	query.Set("report_id", strconv.Itoa(reportID))

	resp, err := c.request(ctx, http.MethodGet, "/api/logs.php", query, nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, &RequestError{StatusCode: resp.status, Message: statusMessage(resp.status)}
	}

	var env struct {
		Success bool              `json:"success"`
		Error   string            `json:"error"`
		Logs    []model.ReportLog `json:"logs"`
	}
	if err := resp.decode(&env); err != nil {
		return nil, &RequestError{StatusCode: resp.status, Message: "Invalid JSON response from server"}
	}
	if !env.Success {
		return nil, &RequestError{StatusCode: resp.status, Message: env.Error}
	}
	return env.Logs, nil
}

// DownloadLog fetches one attached log and returns its decompressed text.
func (c *Client) DownloadLog(ctx context.Context, logID int) (string, error) {
	query := url.Values{}
	query.Set("log_id", strconv.Itoa(logID))

	resp, err := c.request(ctx, http.MethodGet, "/api/logs.php", query, nil)
	if err != nil {
		return "", err
	}
	if resp.status != http.StatusOK {
		return "", &RequestError{StatusCode: resp.status, Message: statusMessage(resp.status)}
	}

	var env struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Log     struct {
			Data string `json:"data"`
		} `json:"log"`
	}
	if err := resp.decode(&env); err != nil {
		return "", &RequestError{StatusCode: resp.status, Message: "Invalid JSON response from server"}
	}
	if !env.Success {
		return "", &RequestError{StatusCode: resp.status, Message: env.Error}
	}
	return logpack.Decompress(env.Log.Data)
}

// SaveLog downloads an attached log and writes it to disk.
func (c *Client) SaveLog(ctx context.Context, logID int, outputPath string) error {
	content, err := c.DownloadLog(ctx, logID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("save log file: %w", err)
	}
	return nil
}

// DeleteLog removes an attached log from a report.
func (c *Client) DeleteLog(ctx context.Context, logID int) error {
	return c.postSuccess(ctx, "/api/logs.php", map[string]any{
		"action": "delete",
		"log_id": logID,
	})
}

// FindReportID looks up the newest report id for a tester, version and test
// type. Returns 0 when no report exists.
func (c *Client) FindReportID(ctx context.Context, tester, clientVersion, testType string) (int, error) {
	query := url.Values{}
	query.Set("tester", tester)
	query.Set("version", clientVersion)
	query.Set("type", testType)
	query.Set("limit", "1")

	resp, err := c.request(ctx, http.MethodGet, "/api/reports.php", query, nil)
	if err != nil {
		return 0, err
	}
	if resp.status != http.StatusOK {
		return 0, &RequestError{StatusCode: resp.status, Message: statusMessage(resp.status)}
	}

	var env struct {
		Reports []struct {
			ID int `json:"id"`
		} `json:"reports"`
	}
	if err := resp.decode(&env); err != nil {
		return 0, &RequestError{StatusCode: resp.status, Message: "Invalid JSON response from server"}
	}
	if len(env.Reports) == 0 {
		return 0, nil
	}
	return env.Reports[0].ID, nil
}

// postSuccess posts a conventional action body and checks the
// {"success": true} acknowledgement.
func (c *Client) postSuccess(ctx context.Context, endpoint string, body map[string]any) error {
	resp, err := c.request(ctx, http.MethodPost, endpoint, nil, body)
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		return &RequestError{StatusCode: resp.status, Message: resp.errorField()}
	}

	var env struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := resp.decode(&env); err != nil {
		return &RequestError{StatusCode: resp.status, Message: "Invalid JSON response from server"}
	}
	if !env.Success {
		return &RequestError{StatusCode: resp.status, Message: env.Error}
	}
	return nil
}
