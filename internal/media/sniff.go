package media

import (
	"bytes"
	"path/filepath"
	"strings"
)

var extensionContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".avif": "image/avif",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
}

// DetectContentType sniffs magic bytes first and falls back to the filename
// extension. Unknown content resolves to application/octet-stream.
func DetectContentType(head []byte, filename string) string {
	if len(head) >= 4 {
		switch {
		case bytes.HasPrefix(head, []byte{0xFF, 0xD8, 0xFF}):
			return "image/jpeg"
		case bytes.HasPrefix(head, []byte{0x89, 0x50, 0x4E, 0x47}):
			return "image/png"
		case bytes.HasPrefix(head, []byte{0x47, 0x49, 0x46, 0x38}):
			return "image/gif"
		case bytes.HasPrefix(head, []byte{0x52, 0x49, 0x46, 0x46}) && len(head) >= 12 && bytes.Equal(head[8:12], []byte("WEBP")):
			return "image/webp"
		}
	}
	if len(head) >= 12 && bytes.Equal(head[4:8], []byte("ftyp")) {
		if bytes.Equal(head[8:12], []byte("avif")) || bytes.Equal(head[8:12], []byte("avis")) {
			return "image/avif"
		}
		return "video/mp4"
	}

	if ct, ok := extensionContentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// contentTypeConsistent reports whether sniffed content is acceptable for a
// declared type. Content that cannot be identified is given the benefit of
// the doubt.
func contentTypeConsistent(declared, detected string) bool {
	if detected == "application/octet-stream" {
		return true
	}
	return strings.EqualFold(declared, detected)
}
