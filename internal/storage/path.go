package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var fileIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildUploadPath returns the object key for an uploaded file. Keys are
// date-partitioned so object listings stay navigable as uploads accumulate.
func BuildUploadPath(fileID, originalName string, uploadedAt time.Time) (string, error) {
	if !fileIDPattern.MatchString(fileID) {
		return "", fmt.Errorf("invalid file id: %q", fileID)
	}

	name := sanitizeFileName(originalName)
	ts := uploadedAt.UTC()
	return path.Join(
		"uploads",
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("%s_%s", fileID, name),
	), nil
}

func sanitizeFileName(name string) string {
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == "" {
		return "upload.bin"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "upload.bin"
	}
	return out
}
