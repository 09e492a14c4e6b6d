package lifecycle

import "github.com/italolelis/surface_downloader/internal/transfer"

type EventType string

const (
	EventStarted   EventType = "download-started"
	EventProgress  EventType = "download-progress"
	EventCompleted EventType = "download-completed"
	EventFailed    EventType = "download-failed"
)

// Event is an outbound lifecycle notification. Started, completed and failed events carry a
// snapshot of the download; progress events carry the id, status and, when the total size is
// known, a percentage with two decimals.
type Event struct {
	Type          EventType          `json:"type"`
	Download      *transfer.Download `json:"download,omitempty"`
	ID            string             `json:"id,omitempty"`
	Progress      string             `json:"progress,omitempty"`
	Status        string             `json:"status,omitempty"`
	Indeterminate bool               `json:"indeterminate,omitempty"`
}

// DownloadID returns the id of the download the event belongs to.
func (e Event) DownloadID() string {
	if e.Download != nil {
		return e.Download.ID
	}

	return e.ID
}

func (e Event) IsTerminal() bool {
	return e.Type == EventCompleted || e.Type == EventFailed
}
