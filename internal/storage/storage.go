package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// MediaStore persists downloaded media.
type MediaStore interface {
	// Save writes data as dir/name and returns the final path.
	Save(ctx context.Context, dir, name string, data []byte) (string, error)
}

// StorageError reports a failure to persist media. It is logged by the
// crawler and never aborts the crawl.
type StorageError struct {
	// Path is the destination that could not be written.
	Path string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("store media %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ErrInvalidName is returned when no usable file name can be derived.
var ErrInvalidName = errors.New("invalid media file name")

// FileStore writes media files to the local file system. Writes are atomic:
// data goes to a temporary file in the destination directory which is then
// renamed into place.
type FileStore struct{}

var _ MediaStore = FileStore{}

// Save implements MediaStore.
func (FileStore) Save(ctx context.Context, dir, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &StorageError{Path: filepath.Join(dir, name), Err: err}
	}
	clean, err := SanitizeFilename(name)
	if err != nil {
		return "", &StorageError{Path: filepath.Join(dir, name), Err: err}
	}
	dest := filepath.Join(dir, clean)

	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", &StorageError{Path: dest, Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".minispider-*")
	if err != nil {
		return "", &StorageError{Path: dest, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", &StorageError{Path: dest, Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", &StorageError{Path: dest, Err: err}
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return "", &StorageError{Path: dest, Err: err}
	}
	return dest, nil
}

// FilenameFromURL returns the last path segment of u, the name a media file
// is stored under.
func FilenameFromURL(u *url.URL) string {
	return path.Base(u.EscapedPath())
}

// SanitizeFilename unescapes a URL path segment, normalizes it to NFC and
// strips anything that could leave the destination directory.
func SanitizeFilename(name string) (string, error) {
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	name = norm.NFC.String(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == 0:
			return '_'
		case r < 0x20:
			return -1
		default:
			return r
		}
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "", ErrInvalidName
	}
	return name, nil
}

// Transcode decodes an image and encodes it again in the same format,
// which drops trailing garbage and verifies the download is a real image.
// Payloads that are not a supported image are returned unchanged with an
// empty format.
func Transcode(data []byte) ([]byte, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return data, "", nil
		}
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95})
	case "png":
		err = png.Encode(&buf, img)
	case "gif":
		err = gif.Encode(&buf, img, nil)
	default:
		return data, format, nil
	}
	if err != nil {
		return nil, format, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), format, nil
}
