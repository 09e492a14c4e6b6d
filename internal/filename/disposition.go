package filename

import (
	"mime"
	"net/url"
	"regexp"
	"strings"
)

var (
	extFilenameParam   = regexp.MustCompile(`(?i)filename\*\s*=\s*([^']*)'[^']*'([^;]+)`)
	plainFilenameParam = regexp.MustCompile(`(?i)filename\s*=\s*"?([^";]+)"?`)
)

// ParseContentDisposition extracts the file name from a Content-Disposition header value.
// The extended filename* parameter wins over filename. Headers mime rejects are parsed leniently.
func ParseContentDisposition(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}

	if _, params, err := mime.ParseMediaType(value); err == nil {
		// mime decodes filename* into the filename key.
		if name := strings.TrimSpace(params["filename"]); name != "" {
			return name, true
		}

		return "", false
	}

	if m := extFilenameParam.FindStringSubmatch(value); m != nil {
		raw := strings.Trim(strings.TrimSpace(m[2]), `"`)
		if decoded, err := url.PathUnescape(raw); err == nil {
			return decoded, true
		}

		return raw, true
	}

	if m := plainFilenameParam.FindStringSubmatch(value); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			return name, true
		}
	}

	return "", false
}
