package inventory

import (
	"context"
	"log"
	"sort"
	"sync"

	"modelhub-worker/pkg/models"
)

// Sender is the outbound delivery capability (transport.Transport).
type Sender interface {
	Send(ctx context.Context, msg interface{}) (bool, error)
}

// Reporter pushes the inventory hash set to the hub, suppressing
// redundant sends: an idle-poll rescan that finds nothing new must not
// flood the hub with the full file-hash list again.
type Reporter struct {
	sender Sender

	mu       sync.Mutex
	lastSent []string // sorted; nil until the first successful push
	reported bool
}

func New(sender Sender) *Reporter {
	return &Reporter{sender: sender}
}

// Push transmits the hash set if its membership differs from the last
// reported set. Returns whether a transmission happened.
func (r *Reporter) Push(ctx context.Context, hashes []string) (bool, error) {
	sorted := append([]string(nil), hashes...)
	sort.Strings(sorted)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reported && equal(r.lastSent, sorted) {
		return false, nil
	}

	delivered, err := r.sender.Send(ctx, models.NewInventory(sorted))
	if err != nil {
		return false, err
	}
	if !delivered {
		// No usable path right now; keep the old baseline so the next
		// push retries.
		return false, nil
	}

	r.lastSent = sorted
	r.reported = true
	log.Printf("[Inventory] Reported %d hashes", len(sorted))
	return true, nil
}

// Invalidate forgets the last-reported set, forcing the next push out.
// Used after reconnects, when the hub's view may be stale.
func (r *Reporter) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reported = false
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
