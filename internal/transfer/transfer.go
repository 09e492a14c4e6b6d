package transfer

import (
	"net/url"
	"strings"
	"time"

	"github.com/italolelis/surface_downloader/internal/storage"
)

const (
	StatusDownloading = "downloading"
	StatusPaused      = "paused"
	StatusInterrupted = "interrupted"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// SurfaceKind distinguishes the main content surface from the embedded ones attached at runtime.
type SurfaceKind int

const (
	SurfacePrimary SurfaceKind = iota
	SurfaceSecondary
)

func (k SurfaceKind) String() string {
	switch k {
	case SurfacePrimary:
		return "primary"
	case SurfaceSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// Item is the transport's handle on a single transfer. Cancel, Pause and Resume act on the
// underlying transfer; SetSavePath must be called before the transport starts writing.
type Item interface {
	URL() string
	URLChain() []string
	Filename() string
	TotalBytes() int64
	SetSavePath(path string)
	Cancel()
	Pause()
	Resume()
}

// Intent is one observed "about to download" event.
type Intent struct {
	URL         string
	Chain       []string
	SurfaceID   string
	SurfaceKind SurfaceKind
	SessionID   string

	// Listener is the kind of session listener that observed the event.
	Listener SurfaceKind
}

// NewIntent builds an intent from an item observed on a surface.
func NewIntent(item Item, surfaceID string, kind SurfaceKind, sessionID string) Intent {
	return Intent{
		URL:         item.URL(),
		Chain:       item.URLChain(),
		SurfaceID:   surfaceID,
		SurfaceKind: kind,
		SessionID:   sessionID,
		Listener:    kind,
	}
}

// URLs returns the originating URL followed by the redirect chain.
func (i Intent) URLs() []string {
	urls := make([]string, 0, len(i.Chain)+1)
	urls = append(urls, i.URL)

	return append(urls, i.Chain...)
}

// FinalURL is the last URL of the redirect chain, or the originating URL without a chain.
func (i Intent) FinalURL() string {
	if len(i.Chain) > 0 && i.Chain[len(i.Chain)-1] != "" {
		return i.Chain[len(i.Chain)-1]
	}

	return i.URL
}

// LogicalKey identifies the transfer for deduplication.
func (i Intent) LogicalKey() string {
	return strings.ToLower(i.FinalURL())
}

// Hostnames returns the hostnames of every parseable URL in the chain. Malformed URLs are skipped.
func (i Intent) Hostnames() []string {
	hosts := make([]string, 0, len(i.Chain)+1)

	for _, u := range i.URLs() {
		host, err := Hostname(u)
		if err != nil {
			continue
		}

		hosts = append(hosts, host)
	}

	return hosts
}

// Hostname extracts the lowercased hostname of an absolute URL.
func Hostname(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &MalformedURLError{URL: rawURL, Err: err}
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", &MalformedURLError{URL: rawURL}
	}

	return host, nil
}

// Download is the in-flight view of an authorized transfer.
type Download struct {
	ID        string     `json:"id"`
	FileName  string     `json:"fileName"`
	FilePath  string     `json:"filePath"`
	URL       string     `json:"url"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Size      int64      `json:"size"`
	Status    string     `json:"status"`
}

func (d Download) IsTerminal() bool {
	return d.Status == StatusCompleted || d.Status == StatusFailed
}

// Record converts the download into its persisted history form.
func (d Download) Record() storage.DownloadRecord {
	rec := storage.DownloadRecord{
		ID:        d.ID,
		FileName:  d.FileName,
		FilePath:  d.FilePath,
		URL:       d.URL,
		StartTime: d.StartTime.UTC().Format(time.RFC3339Nano),
		Size:      d.Size,
		Status:    d.Status,
	}

	if d.EndTime != nil {
		rec.EndTime = d.EndTime.UTC().Format(time.RFC3339Nano)
	}

	return rec
}
