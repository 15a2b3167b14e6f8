package receipt

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// DefaultExtension is used when an upload has no usable extension
const DefaultExtension = "bin"

// maxExtensionLen keeps phone-generated names from producing long keys
const maxExtensionLen = 10

var extensionPattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// NewKey returns a fresh random key carrying the given extension.
// The original filename never appears in the key.
func NewKey(ext string) string {
	return uuid.NewString() + "." + sanitizeExtension(ext)
}

// IsGeneratedKey reports whether key has the shape NewKey produces: a
// canonical uuid, a dot and a sanitized extension. Anything else in the
// store was not written by this service.
func IsGeneratedKey(key string) bool {
	stem, ext, ok := strings.Cut(key, ".")
	if !ok || len(stem) != 36 {
		return false
	}
	id, err := uuid.Parse(stem)
	if err != nil || id.String() != stem {
		return false
	}
	return ext == sanitizeExtension(ext)
}

// ExtensionOf returns the extension of a client-supplied filename without
// the leading dot, or an empty string.
func ExtensionOf(filename string) string {
	return strings.TrimPrefix(filepath.Ext(filename), ".")
}

// sanitizeExtension lowercases ext and falls back to DefaultExtension
// for anything that is not a short alphanumeric suffix
func sanitizeExtension(ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" || len(ext) > maxExtensionLen || !extensionPattern.MatchString(ext) {
		return DefaultExtension
	}
	return strings.ToLower(ext)
}

// ContentTypeFor determines the MIME type to serve a receipt with
func ContentTypeFor(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}
