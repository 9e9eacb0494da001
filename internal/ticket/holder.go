package ticket

import "sync"

// Holder is a single mutable cell holding the most recently known server
// representation of a Ticket. Tool handlers and the orchestrator read
// through it rather than capturing stale snapshots (spec §9, "TicketHolder
// pattern"); the API client is the sole writer after each successful
// mutation call.
type Holder struct {
	mu     sync.RWMutex
	ticket *Ticket
}

// NewHolder creates a Holder seeded with the given ticket.
func NewHolder(t *Ticket) *Holder {
	return &Holder{ticket: t}
}

// Get returns the current ticket snapshot.
func (h *Holder) Get() *Ticket {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ticket
}

// Set replaces the held ticket, typically with the server's returned
// representation after a mutating API call.
func (h *Holder) Set(t *Ticket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ticket = t
}

// ID returns the id of the currently held ticket, or "" if none is held.
func (h *Holder) ID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.ticket == nil {
		return ""
	}
	return h.ticket.ID
}
