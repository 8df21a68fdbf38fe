package pagination

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

const timeFormat = time.RFC3339Nano // Use a precise time format

// EncodeRunToken creates a base64 encoded token from the start time and ID of the last run on a page.
// Runs are listed newest first, so the next page starts strictly before this pair.
func EncodeRunToken(startedAt time.Time, runID string) string {
	tokenStr := fmt.Sprintf("%s|%s", startedAt.Format(timeFormat), runID)
	return base64.StdEncoding.EncodeToString([]byte(tokenStr))
}

// DecodeRunToken parses the base64 encoded token back into start time and run ID.
func DecodeRunToken(token string) (time.Time, string, error) {
	decodedBytes, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid pagination token format (base64 decode): %w", err)
	}
	parts := strings.SplitN(string(decodedBytes), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", fmt.Errorf("invalid pagination token format (split)")
	}

	startedAt, err := time.Parse(timeFormat, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid pagination token format (started_at parse): %w", err)
	}

	return startedAt, parts[1], nil
}

// EncodeKeyToken creates a continuation token for key-ordered scans.
func EncodeKeyToken(lastKey string) string {
	if lastKey == "" {
		return ""
	}
	return base64.URLEncoding.EncodeToString([]byte(lastKey))
}

// DecodeKeyToken returns the last key seen by the previous page. An empty token starts a scan.
func DecodeKeyToken(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	decodedBytes, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("invalid pagination token format (base64 decode): %w", err)
	}
	return string(decodedBytes), nil
}
