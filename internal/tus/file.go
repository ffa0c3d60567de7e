package tus

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// File is a local source for an upload. Reader is read at arbitrary offsets,
// so only one chunk is ever held in memory.
type File struct {
	Name        string
	ContentType string
	Size        int64
	ModTime     time.Time
	Reader      io.ReaderAt
}

// videoTypes covers containers the system mime table often lacks.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".ogv":  "video/ogg",
}

// ContentTypeFor guesses a content type from the file extension.
func ContentTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := videoTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Open stats and opens a file on disk. The caller closes the returned closer.
func Open(path string) (*File, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to stat file: %w", err)
	}
	return &File{
		Name:        filepath.Base(path),
		ContentType: ContentTypeFor(path),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		Reader:      f,
	}, f, nil
}
