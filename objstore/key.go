package objstore

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/buzkaaclicker/profiles"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Extension derives the object file extension from the content type, falling
// back to the literal extension of the original filename.
func Extension(contentType string, filename string) (string, error) {
	ext := extensionByType(contentType)
	if ext == "" && filename != "" {
		ext = extensionByFilename(filename)
		logrus.WithField("filename", filename).WithField("extension", ext).
			Debugln("Guessed extension from filename.")
	}
	if ext == "" {
		return "", fmt.Errorf("%w for content type '%s', filename '%s'",
			profiles.ErrUnresolvableType, contentType, filename)
	}
	return normalizeExtension(ext), nil
}

func extensionByType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	m := mimetype.Lookup(mediaType)
	if m == nil {
		return ""
	}
	return m.Extension()
}

func extensionByFilename(filename string) string {
	ext := normalizeExtension(strings.ToLower(filepath.Ext(filename)))
	if ext == "" || mime.TypeByExtension(ext) == "" {
		return ""
	}
	return ext
}

func normalizeExtension(ext string) string {
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if ext == ".jpe" {
		return ".jpeg"
	}
	return ext
}

// ObjectKey builds `{prefix}{random id}{ext}`. The name is never derived from
// content, so an object, once written, is never overwritten.
func ObjectKey(prefix string, ext string) string {
	return NormalizePrefix(prefix) + uuid.NewString() + ext
}

// NormalizePrefix makes a non empty prefix end in exactly one separator.
func NormalizePrefix(prefix string) string {
	if prefix == "" {
		return ""
	}
	return strings.TrimRight(prefix, "/") + "/"
}
