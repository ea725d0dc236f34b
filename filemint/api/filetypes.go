package api

import (
	"fmt"
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/filemint/filemint/filemint/failures"
)

// AcceptedExtensions are the file types the uploader takes.
var AcceptedExtensions = []string{
	"jpeg", "jpg", "png", "pdf", "gif", "txt", "docx", "ppt", "csv", "mp3", "mp4", "wav", "xlsx",
}

var accepted = mapset.NewThreadUnsafeSet(AcceptedExtensions...)

// CheckFileType rejects file names whose extension is not in AcceptedExtensions.
func CheckFileType(name string) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		return fmt.Errorf("%w: file %q has no extension", failures.ErrInvalidSubmission, name)
	}
	if !accepted.Contains(ext) {
		return fmt.Errorf("%w: file type %q is not accepted (allowed: %s)", failures.ErrInvalidSubmission, ext, strings.Join(AcceptedExtensions, ", "))
	}
	return nil
}
