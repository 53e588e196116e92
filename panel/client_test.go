package panel

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/panelsync/panelsync/cache"
	"github.com/panelsync/panelsync/config"
	"github.com/panelsync/panelsync/model"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *cache.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	store := cache.Open(filepath.Join(t.TempDir(), "test_panel_cache.json"), zerolog.Nop())
	cfg := &config.Config{APIURL: srv.URL, APIKey: "sk_test", Timeout: 5}
	return New(cfg, store, zerolog.Nop()), store
}

// unreachableClient points at a server that is already gone.
func unreachableClient(t *testing.T, store *cache.Store) *Client {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	if store == nil {
		store = cache.Open(filepath.Join(t.TempDir(), "test_panel_cache.json"), zerolog.Nop())
	}
	cfg := &config.Config{APIURL: url, APIKey: "sk_test", Timeout: 5}
	return New(cfg, store, zerolog.Nop())
}

func TestRequestSendsAuthHeaders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/retests.php", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "sk_test", r.Header.Get("X-API-Key"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		io.WriteString(w, `{"success": true, "retest_queue": []}`)
	})
	client, _ := newTestClient(t, mux)

	items, err := client.RetestQueue(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestTestConnection(t *testing.T) {
	for _, tc := range []struct {
		name   string
		status int
		want   bool
	}{
		{"ok", http.StatusOK, true},
		{"bad_key_still_reachable", http.StatusUnauthorized, true},
		{"server_error", http.StatusInternalServerError, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			require.Equal(t, tc.want, client.TestConnection(context.Background()))
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		client := unreachableClient(t, nil)
		require.False(t, client.TestConnection(context.Background()))
	})
}

func TestStatusDiagnostics(t *testing.T) {
	for _, tc := range []struct {
		status int
		want   string
	}{
		{http.StatusUnauthorized, "Authentication failed - check API key"},
		{http.StatusForbidden, "Access denied"},
		{http.StatusNotFound, "API endpoint not found - check API URL"},
		{http.StatusBadGateway, "Server error (HTTP 502)"},
	} {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		_, err := client.Versions(context.Background(), VersionOptions{NoCache: true})
		require.Error(t, err)

		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		require.Equal(t, tc.status, reqErr.StatusCode)
		require.Equal(t, tc.want, reqErr.Message)
	}
}

func TestVersionsCacheFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/versions.php", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success": true, "versions": [
			{"id": "2003.6.12", "packages": ["Steam_14", "SteamUI_51"], "is_enabled": true}
		]}`)
	})
	client, store := newTestClient(t, mux)

	versions, err := client.Versions(context.Background(), VersionOptions{})
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.True(t, client.Online())
	require.True(t, store.HasData())

	// Panel goes away: same cache, new client
	offline := unreachableClient(t, store)

	versions, err = offline.Versions(context.Background(), VersionOptions{})
	require.ErrorIs(t, err, ErrCachedData)
	require.Len(t, versions, 1)
	require.Equal(t, "2003.6.12", versions[0].ID)
	require.False(t, offline.Online())

	_, err = offline.Versions(context.Background(), VersionOptions{NoCache: true})
	require.ErrorIs(t, err, ErrUnreachable)
}

func TestVersionsNoCachedData(t *testing.T) {
	client := unreachableClient(t, nil)
	_, err := client.Versions(context.Background(), VersionOptions{})
	require.ErrorIs(t, err, ErrNoCachedData)
}

func TestTestsVersionTemplate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tests.php", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "2003.6.12", r.URL.Query().Get("client_version"))
		io.WriteString(w, `{"success": true,
			"tests": [{"test_key": "1", "name": "Login", "is_enabled": true}],
			"categories": [{"id": 1, "name": "Core"}],
			"skip_tests": ["24", "25"]}`)
	})
	client, store := newTestClient(t, mux)

	catalog, err := client.Tests(context.Background(), TestOptions{ClientVersion: "2003.6.12"})
	require.NoError(t, err)
	require.Len(t, catalog.Tests, 1)
	require.Equal(t, []string{"24", "25"}, catalog.SkipTests)

	// Template cached per version, served offline
	offline := unreachableClient(t, store)
	catalog, err = offline.Tests(context.Background(), TestOptions{ClientVersion: "2003.6.12"})
	require.ErrorIs(t, err, ErrCachedData)
	require.Len(t, catalog.Tests, 1)
	require.Equal(t, []string{"24", "25"}, catalog.SkipTests)

	// No template for unknown versions and no general list cached
	_, err = offline.Tests(context.Background(), TestOptions{ClientVersion: "1999.1.1"})
	require.ErrorIs(t, err, ErrNoCachedData)
}

func TestTestsGeneralListFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tests.php", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success": true,
			"tests": [{"test_key": "1", "name": "Login", "is_enabled": true},
			          {"test_key": "2", "name": "Chat", "is_enabled": true}],
			"categories": [{"id": 1, "name": "Core"}]}`)
	})
	client, store := newTestClient(t, mux)

	_, err := client.Tests(context.Background(), TestOptions{})
	require.NoError(t, err)

	offline := unreachableClient(t, store)
	catalog, err := offline.Tests(context.Background(), TestOptions{})
	require.ErrorIs(t, err, ErrCachedData)
	require.Len(t, catalog.Tests, 2)
	require.Len(t, catalog.Categories, 1)
}

func TestVersionNotices(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/versions.php", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch body["action"] {
		case "get_notifications":
			require.Equal(t, "2003.6.12", body["version_id"])
			io.WriteString(w, `{"success": true, "notifications": [
				{"id": 3, "name": "Known issue", "message": "Friends list empty on first login"}
			]}`)
		case "get_notifications_batch":
			io.WriteString(w, `{"success": true, "notifications_by_version": {
				"2003.6.12": [{"id": 3, "name": "Known issue", "message": "Friends list empty on first login"}],
				"2002.9.3": []
			}}`)
		default:
			t.Errorf("unexpected action %v", body["action"])
		}
	})
	client, _ := newTestClient(t, mux)

	notices, err := client.VersionNotices(context.Background(), "2003.6.12", "")
	require.NoError(t, err)
	require.Len(t, notices, 1)
	require.Equal(t, "Known issue", notices[0].Name)

	batch, err := client.VersionNoticesBatch(context.Background(), []string{"2003.6.12", "2002.9.3"}, "")
	require.NoError(t, err)
	require.Len(t, batch["2003.6.12"], 1)
	require.Empty(t, batch["2002.9.3"])
}

func TestSubmit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/submit.php", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.Contains(t, string(body), `"results"`)
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"success": true, "reports": [
			{"report_id": 42, "client_version": "2003.6.12", "tests_recorded": 3, "logs_attached": 1, "view_url": "http://panel/view.php?id=42"}
		]}`)
	})
	client, _ := newTestClient(t, mux)

	outcome, err := client.Submit(context.Background(), json.RawMessage(`{"results": {}}`))
	require.NoError(t, err)
	require.Equal(t, 42, outcome.ReportID)
	require.Equal(t, 3, outcome.TestsRecorded)
	require.True(t, client.Online())
}

func TestSubmitLegacyResponse(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"success": true, "report_id": 7, "tests_recorded": 2}`)
	}))

	outcome, err := client.Submit(context.Background(), json.RawMessage(`{"results": {}}`))
	require.NoError(t, err)
	require.Equal(t, 7, outcome.ReportID)
}

func TestSubmitRejected(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"success": false, "error": "Missing results"}`)
	}))

	_, err := client.Submit(context.Background(), json.RawMessage(`{}`))
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, "Missing results", reqErr.Message)
}

func TestSubmitUnreachableMarksOffline(t *testing.T) {
	client := unreachableClient(t, nil)

	_, err := client.Submit(context.Background(), json.RawMessage(`{"results": {}}`))
	require.ErrorIs(t, err, ErrUnreachable)
	require.False(t, client.Online())
}

func TestDrainHookFiresOnReconnect(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"success": true, "report_id": 1}`)
	}))

	drained := false
	var flips []bool
	client.SetDrainHook(func() { drained = true })
	client.OnOnlineChange(func(online bool) { flips = append(flips, online) })

	// Client starts offline; first success is a transition
	_, err := client.Submit(context.Background(), json.RawMessage(`{"results": {}}`))
	require.NoError(t, err)
	require.True(t, drained)
	require.Equal(t, []bool{true}, flips)

	// Second success is not a transition
	drained = false
	_, err = client.Submit(context.Background(), json.RawMessage(`{"results": {}}`))
	require.NoError(t, err)
	require.False(t, drained)
	require.Equal(t, []bool{true}, flips)
}

func TestCheckHashes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/check_hash.php", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Hashes     map[string]string `json:"hashes"`
			Tester     string            `json:"tester"`
			TestType   string            `json:"test_type"`
			CommitHash string            `json:"commit_hash"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "alice", body.Tester)
		require.Equal(t, "WAN", body.TestType)
		require.Equal(t, "abc123", body.CommitHash)
		require.Len(t, body.Hashes, 2)

		io.WriteString(w, `{"success": true, "results": {
			"v1": {"exists": true, "hash_matches": true, "report_id": 10, "action": "skip"},
			"v2": {"exists": true, "hash_matches": false, "server_hash": "other", "report_id": 11, "revision_count": 2, "action": "update"}
		}}`)
	})
	client, _ := newTestClient(t, mux)

	results, err := client.CheckHashes(context.Background(),
		map[string]string{"v1": "h1", "v2": "h2"},
		model.Meta{Tester: "alice", TestType: "WAN", CommitHash: "abc123"})
	require.NoError(t, err)

	require.Equal(t, model.ActionSkip, results["v1"].Action)
	require.Equal(t, model.ActionUpdate, results["v2"].Action)
	require.Equal(t, 2, results["v2"].RevisionCount)
}

func TestRetestQueue(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/retests.php", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "2003.6.12", r.URL.Query().Get("client_version"))
		io.WriteString(w, `{"success": true, "retest_queue": [
			{"type": "retest", "id": 5, "test_key": "3", "test_name": "Chat",
			 "client_version": "2003.6.12", "reason": "Crash reported", "latest_revision": true}
		]}`)
	})
	client, _ := newTestClient(t, mux)

	items, err := client.RetestQueue(context.Background(), "2003.6.12")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, model.RetestTypeRetest, items[0].Type)
	require.True(t, items[0].LatestRevision)
}

func TestMarkRetestDone(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/retests.php", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "fixed", body["type"])
		require.Equal(t, "Working", body["new_status"])
		io.WriteString(w, `{"success": true}`)
	})
	client, _ := newTestClient(t, mux)

	err := client.MarkRetestDone(context.Background(),
		model.RetestItem{Type: model.RetestTypeFixed, ID: 9}, model.StatusWorking)
	require.NoError(t, err)
}

func TestNotifications(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/notifications.php", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "25", r.URL.Query().Get("limit"))
		require.Equal(t, "true", r.URL.Query().Get("unread"))
		io.WriteString(w, `{"success": true, "unread_count": 2, "notifications": [
			{"id": 1, "type": "retest", "title": "Retest requested", "message": "Please retest Chat", "is_read": false},
			{"id": 2, "type": "info", "title": "Note", "message": "Panel maintenance", "is_read": false}
		]}`)
	})
	client, _ := newTestClient(t, mux)

	items, unread, err := client.Notifications(context.Background(), true, 25)
	require.NoError(t, err)
	require.Equal(t, 2, unread)
	require.Len(t, items, 2)
	require.Equal(t, "Retest requested", items[0].Title)
}

func TestDownloadLog(t *testing.T) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write([]byte("log line one\nlog line two\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

	mux := http.NewServeMux()
	mux.HandleFunc("/api/logs.php", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "31", r.URL.Query().Get("log_id"))
		resp := map[string]any{"success": true, "log": map[string]string{"data": encoded}}
		json.NewEncoder(w).Encode(resp)
	})
	client, _ := newTestClient(t, mux)

	content, err := client.DownloadLog(context.Background(), 31)
	require.NoError(t, err)
	require.Equal(t, "log line one\nlog line two\n", content)
}

func TestFindReportID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/reports.php", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "alice", q.Get("tester"))
		require.Equal(t, "1", q.Get("limit"))
		if q.Get("version") == "known" {
			io.WriteString(w, `{"reports": [{"id": 77}]}`)
		} else {
			io.WriteString(w, `{"reports": []}`)
		}
	})
	client, _ := newTestClient(t, mux)

	id, err := client.FindReportID(context.Background(), "alice", "known", "WAN")
	require.NoError(t, err)
	require.Equal(t, 77, id)

	id, err = client.FindReportID(context.Background(), "alice", "unknown", "WAN")
	require.NoError(t, err)
	require.Zero(t, id)
}

func TestUserInfoSortsRevisions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/user.php", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success": true, "user": {"username": "alice"}, "revisions": {
			"aaa": {"notes": "older", "ts": 100, "files": {"added": [], "removed": [], "modified": ["a.c"]}},
			"bbb": {"notes": "newer", "ts": 200, "files": {"added": ["b.c"], "removed": [], "modified": []}}
		}}`)
	})
	client, _ := newTestClient(t, mux)

	info, err := client.UserInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, "alice", info.Username)
	require.Equal(t, 2, info.RevisionsCount)
	require.Equal(t, "bbb", info.Revisions[0].SHA)
	require.Equal(t, "aaa", info.Revisions[1].SHA)
}

func TestCheckFlags(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/flag_check.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "retest", body["type"])
			io.WriteString(w, `{"success": true}`)
			return
		}
		io.WriteString(w, `{"success": true, "count": 1, "flags": [{"type": "retest", "id": 4}]}`)
	})
	client, _ := newTestClient(t, mux)

	flags, err := client.CheckFlags(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, flags.Count)

	require.NoError(t, client.AcknowledgeFlag(context.Background(), "retest", 4))
}

func TestReportLogManagement(t *testing.T) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write([]byte("boot ok\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

	var deleted bool
	mux := http.NewServeMux()
	mux.HandleFunc("/api/logs.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "delete", body["action"])
			require.Equal(t, float64(31), body["log_id"])
			deleted = true
			io.WriteString(w, `{"success": true}`)
			return
		}
		if r.URL.Query().Get("log_id") != "" {
			resp := map[string]any{"success": true, "log": map[string]string{"data": encoded}}
			json.NewEncoder(w).Encode(resp)
			return
		}
		require.Equal(t, "12", r.URL.Query().Get("report_id"))
		io.WriteString(w, `{"success": true, "logs": [
			{"id": 31, "filename": "test_log_2003-06-12_10-30-00_stv-101_stuiv-55.log",
			 "size_original": 2048, "size_compressed": 512}
		]}`)
	})
	client, _ := newTestClient(t, mux)

	logs, err := client.ReportLogs(context.Background(), 12)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, 31, logs[0].ID)

	out := filepath.Join(t.TempDir(), "saved.log")
	require.NoError(t, client.SaveLog(context.Background(), logs[0].ID, out))
	content, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "boot ok\n", string(content))

	require.NoError(t, client.DeleteLog(context.Background(), logs[0].ID))
	require.True(t, deleted)
}

func TestMarkNotificationsRead(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/notifications.php", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch body["action"] {
		case "mark_read":
			require.Equal(t, float64(7), body["notification_id"])
		case "mark_all_read":
			require.Len(t, body, 1)
		default:
			t.Errorf("unexpected action %v", body["action"])
		}
		io.WriteString(w, `{"success": true}`)
	})
	client, _ := newTestClient(t, mux)

	require.NoError(t, client.MarkNotificationRead(context.Background(), 7))
	require.NoError(t, client.MarkAllNotificationsRead(context.Background()))
}
