package snapshot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/onnwee/scanara/internal/apperr"
)

var (
	// ErrEmptyFiles is returned when no files were supplied.
	ErrEmptyFiles = errors.New("files array is required and must not be empty")

	// ErrMissingPath is returned when a file has an empty path.
	ErrMissingPath = errors.New("file path is required")

	// ErrMissingContent is returned when a file has null or absent content.
	ErrMissingContent = errors.New("file content is required")
)

// Normalize validates raw files and returns at most MaxFiles normalized
// entries in received order. Every received entry is validated, including
// those past the cut point. Errors carry apperr.KindValidation.
func Normalize(raw []RawFile) ([]File, error) {
	if len(raw) == 0 {
		return nil, &apperr.Error{Kind: apperr.KindValidation, Message: ErrEmptyFiles.Error(), Err: ErrEmptyFiles}
	}

	for i, f := range raw {
		if strings.TrimSpace(f.Path) == "" {
			return nil, &apperr.Error{
				Kind:    apperr.KindValidation,
				Message: fmt.Sprintf("each file must have path and content properties (failed at file %d)", i),
				Err:     ErrMissingPath,
			}
		}
		if f.Content == nil {
			return nil, &apperr.Error{
				Kind:    apperr.KindValidation,
				Message: fmt.Sprintf("each file must have path and content properties (failed at file %d)", i),
				Err:     ErrMissingContent,
			}
		}
	}

	n := len(raw)
	if n > MaxFiles {
		n = MaxFiles
	}

	files := make([]File, 0, n)
	for _, f := range raw[:n] {
		files = append(files, NewFile(f.Path, *f.Content))
	}
	return files, nil
}

// NewFile builds a File whose SizeBytes is the UTF-8 byte length of content.
func NewFile(path, content string) File {
	return File{Path: path, Content: content, SizeBytes: len(content)}
}

// Truncate returns files limited to MaxFiles, preserving order.
func Truncate(files []File) []File {
	if len(files) <= MaxFiles {
		return files
	}
	return files[:MaxFiles]
}
