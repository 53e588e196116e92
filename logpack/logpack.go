// Package logpack turns emulator log files into the compressed attachment
// format the panel stores, and recovers text from downloaded attachments.
package logpack

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/panelsync/panelsync/model"
)

// DefaultMaxAge bounds how old a discovered log may be. Test sessions run
// overnight at the longest, so anything older belongs to a previous session.
const DefaultMaxAge = 13 * time.Hour

const (
	attachmentTimeLayout = "2006-01-02 15:04:05"
	filenameTimeLayout   = "2006-01-02_15-04-05"
)

// Compress reads one log file into an attachment. Content is deflated with
// zlib at the maximum level, which the panel's PHP side unpacks with
// gzuncompress, then base64 encoded for JSON transport.
func Compress(path string) (model.LogAttachment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return model.LogAttachment{}, fmt.Errorf("read log file: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return model.LogAttachment{}, err
	}

	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return model.LogAttachment{}, err
	}
	if _, err := w.Write(content); err != nil {
		return model.LogAttachment{}, err
	}
	if err := w.Close(); err != nil {
		return model.LogAttachment{}, err
	}

	return model.LogAttachment{
		Filename:       filepath.Base(path),
		Datetime:       info.ModTime().Format(attachmentTimeLayout),
		SizeOriginal:   len(content),
		SizeCompressed: buf.Len(),
		Data:           base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// Discover finds session logs for the packages under test and compresses
// them for attachment, newest first. Log files are named
// test_log_<date>_<time>_stv-<steam>_stuiv-<steamui>.log and live in the
// logs directory under the emulator path. Files outside the age window and
// files that cannot be read are skipped.
func Discover(emulatorPath string, packages []string, maxAge time.Duration) ([]model.LogAttachment, error) {
	if emulatorPath == "" {
		return nil, fmt.Errorf("invalid emulator path")
	}
	if info, err := os.Stat(emulatorPath); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("invalid emulator path")
	}
	logsDir := filepath.Join(emulatorPath, "logs")
	if info, err := os.Stat(logsDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("logs folder not found")
	}

	steamVer, steamuiVer := packageVersions(packages)
	if steamVer == "" || steamuiVer == "" {
		return nil, fmt.Errorf("could not extract Steam/SteamUI versions from packages")
	}

	pattern, err := regexp.Compile(
		`^test_log_(\d{4}-\d{2}-\d{2})_(\d{2}-\d{2}-\d{2})_stv-` +
			regexp.QuoteMeta(steamVer) + `_stuiv-` + regexp.QuoteMeta(steamuiVer) + `\.log$`)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(logsDir)
	if err != nil {
		return nil, fmt.Errorf("read logs directory: %w", err)
	}

	now := time.Now()
	cutoff := now.Add(-maxAge)

	type found struct {
		stamp    time.Time
		filename string
	}
	var candidates []found
	for _, entry := range entries {
		m := pattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		stamp, err := time.ParseInLocation(filenameTimeLayout, m[1]+"_"+m[2], time.Local)
		if err != nil {
			continue
		}
		if stamp.Before(cutoff) || stamp.After(now) {
			continue
		}
		candidates = append(candidates, found{stamp: stamp, filename: entry.Name()})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no matching log files found for Steam_%s/SteamUI_%s within the last %s",
			steamVer, steamuiVer, maxAge)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].stamp.After(candidates[j].stamp)
	})

	var logs []model.LogAttachment
	for _, c := range candidates {
		att, err := gzipAttachment(filepath.Join(logsDir, c.filename), c.filename, c.stamp)
		if err != nil {
			continue
		}
		logs = append(logs, att)
	}
	if len(logs) == 0 {
		return nil, fmt.Errorf("could not read any matching log files")
	}
	return logs, nil
}

// packageVersions extracts Steam and SteamUI version numbers from package
// names. Platform packages count as SteamUI for matching purposes.
func packageVersions(packages []string) (steam, steamui string) {
	for _, pkg := range packages {
		switch {
		case strings.HasPrefix(pkg, "Steam_"):
			steam = strings.SplitN(pkg, "_", 2)[1]
		case strings.HasPrefix(pkg, "SteamUI_"):
			steamui = strings.SplitN(pkg, "_", 2)[1]
		case strings.HasPrefix(pkg, "Platform_"):
			steamui = strings.SplitN(pkg, "_", 2)[1]
		}
	}
	return steam, steamui
}

func gzipAttachment(path, filename string, stamp time.Time) (model.LogAttachment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return model.LogAttachment{}, err
	}
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return model.LogAttachment{}, err
	}
	if _, err := w.Write(content); err != nil {
		return model.LogAttachment{}, err
	}
	if err := w.Close(); err != nil {
		return model.LogAttachment{}, err
	}
	return model.LogAttachment{
		Filename:       filename,
		Datetime:       stamp.Format(attachmentTimeLayout),
		SizeOriginal:   len(content),
		SizeCompressed: buf.Len(),
		Data:           base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// Decompress recovers the text of a downloaded attachment payload. The
// panel compresses with PHP gzcompress (zlib), but older attachments were
// gzip, so both formats are accepted.
func Decompress(b64 string) (string, error) {
	compressed, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode attachment: %w", err)
	}

	if r, err := zlib.NewReader(bytes.NewReader(compressed)); err == nil {
		defer r.Close()
		data, err := io.ReadAll(r)
		if err == nil {
			return string(data), nil
		}
	}

	r, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return "", fmt.Errorf("attachment is neither zlib nor gzip compressed")
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decompress attachment: %w", err)
	}
	return string(data), nil
}
