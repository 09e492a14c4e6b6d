package filename

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	unsafeChars    = strings.NewReplacer(`\`, "_", "/", "_", ":", "_", "*", "_", "?", "_", `"`, "_", "<", "_", ">", "_", "|", "_")
	mediaExtension = regexp.MustCompile(`(?i)\.(mp3|flac|wav|m4a|aac|ogg|wma|ape|ncm)$`)
)

// Sanitize replaces characters that are unsafe in file names with '_' and trims surrounding
// whitespace.
func Sanitize(name string) string {
	return strings.TrimSpace(unsafeChars.Replace(name))
}

// MediaExtension returns the lowercased media extension (".mp3") ending the URL path, or "".
func MediaExtension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return strings.ToLower(mediaExtension.FindString(u.Path))
}

// usable reports whether a sanitized name can be joined under a directory without escaping it.
func usable(name string) bool {
	return name != "" && name != "." && name != ".."
}
