package processor

import (
	"fmt"
	"mime"
	"strings"
)

// ObjectKey is where the artifact of capture id is stored.
func ObjectKey(id, contentType string) string {
	return fmt.Sprintf("captures/%s/capture%s", id, ExtFromMime(contentType))
}

// ExtFromMime returns the file extension for a render content type,
// ".bin" when unknown. Parameters such as charset are ignored.
func ExtFromMime(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mt {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	case "text/html":
		return ".html"
	case "application/json":
		return ".json"
	default:
		return ".bin"
	}
}
