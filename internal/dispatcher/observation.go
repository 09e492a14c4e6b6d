package dispatcher

import (
	"sync"

	"github.com/italolelis/surface_downloader/internal/transfer"
)

// observation is one listener's view of a shared item. Until a listener accepts the transfer,
// Cancel only records that this listener declined it; the dispatcher cancels the real item once
// every listener has declined.
type observation struct {
	transfer.Item

	mu       sync.Mutex
	accepted bool
	declined bool
}

func newObservation(item transfer.Item) *observation {
	return &observation{Item: item}
}

func (o *observation) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.accepted {
		o.Item.Cancel()

		return
	}

	o.declined = true
}

// accept hands control of the item to this observation. A cancel requested before acceptance
// is forwarded now.
func (o *observation) accept() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.accepted = true

	if o.declined {
		o.Item.Cancel()
	}
}
