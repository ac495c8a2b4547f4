// internal/harvest/naming.go
package harvest

import (
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// DefaultExtension is used when neither the URL nor the bytes identify the image.
const DefaultExtension = "png"

var urlImageExtensions = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "bmp": {}, "webp": {},
}

var sniffedImageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/bmp":  "bmp",
	"image/webp": "webp",
}

// ImageExtension picks the file extension for an image fetched from rawURL.
// The URL path wins, then the sniffed content type, then DefaultExtension.
func ImageExtension(rawURL string, body []byte) string {
	if u, err := url.Parse(rawURL); err == nil {
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
		if _, ok := urlImageExtensions[ext]; ok {
			return ext
		}
	}
	if len(body) > 0 {
		if ext, ok := sniffedImageExtensions[http.DetectContentType(body)]; ok {
			return ext
		}
	}
	return DefaultExtension
}

// FileName builds "<index>_<id>.<ext>" with index zero-padded to the number of
// digits in total and the id written without dashes.
func FileName(index int64, total int, id uuid.UUID, ext string) string {
	width := len(strconv.Itoa(total))
	return fmt.Sprintf("%0*d_%s.%s", width, index, strings.ReplaceAll(id.String(), "-", ""), ext)
}
