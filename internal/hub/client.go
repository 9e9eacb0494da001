// Package hub implements the worker-side Hub Client (spec §4.5): the
// durable bidirectional push channel to the control plane. Grounded on the
// teacher's internal/gateway/ws_control_plane.go frame shape (wsFrame:
// type/id/method/params/event/ok/payload/error) over gorilla/websocket, but
// rewritten from the teacher's server-side upgrader/session into a
// worker-side dialer with automatic reconnect, since this system is the
// websocket client, not the server.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/ticketworker/internal/backoff"
	"github.com/haasonsaas/ticketworker/internal/settings"
	"github.com/haasonsaas/ticketworker/internal/ticket"
)

// reconnectWaitCap bounds how long a best-effort send waits for the
// automatic reconnect loop before making one manual restart attempt (spec
// §4.5: "tolerate transient disconnects by reconnecting (up to ~15 s wait
// while automatic reconnect runs, then one manual restart attempt)").
const reconnectWaitCap = 15 * time.Second

// requestTimeout bounds how long a single request/response round trip may
// take once a connection is established.
const requestTimeout = 30 * time.Second

// ChatMessage is a queued WorkerChatMessage event payload.
type ChatMessage struct {
	ConversationID string
	Text           string
}

// Client is the worker-side Hub Client: one long-lived websocket
// connection to the control plane per ticket.
type Client struct {
	url       string
	authToken string
	holder    *ticket.Holder

	mu           sync.Mutex
	conn         *websocket.Conn
	writeMu      sync.Mutex
	ticketID     string
	connected    bool
	connectedCh  chan struct{} // closed, and replaced, whenever connectivity changes
	cancelActive context.CancelFunc

	changeSignal  chan struct{}
	chatQueuesMu  sync.Mutex
	chatQueues    map[string]*Queue[ChatMessage]
	clearQueue    *Queue[string]
	settingsQueue *Queue[[]settings.LLMConfig]

	reqID     int64
	pendingMu sync.Mutex
	pending   map[string]chan *wsFrame
}

// NewClient builds a Hub Client dialing url (a ws:// or wss:// endpoint)
// with authToken as a bearer credential, updating holder with every
// TicketUpdated event matching the connected ticket.
func NewClient(url, authToken string, holder *ticket.Holder) *Client {
	return &Client{
		url:           normalizeURL(url),
		authToken:     authToken,
		holder:        holder,
		connectedCh:   make(chan struct{}),
		changeSignal:  make(chan struct{}, 1),
		chatQueues:    make(map[string]*Queue[ChatMessage]),
		clearQueue:    NewQueue[string](),
		settingsQueue: NewQueue[[]settings.LLMConfig](),
		pending:       make(map[string]chan *wsFrame),
	}
}

// SetActiveWorkCancel registers the cancel func for the current
// active-work scope. Connect's TicketUpdated handler calls it when the
// ticket's status is no longer active (spec §5 Cancellation).
func (c *Client) SetActiveWorkCancel(cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelActive = cancel
}

// Connect establishes the channel for ticketID, registers the worker for
// routing, and begins listening. It returns once the initial connection
// succeeds; an internal goroutine maintains reconnection for the lifetime
// of ctx.
func (c *Client) Connect(ctx context.Context, ticketID string) error {
	c.mu.Lock()
	c.ticketID = ticketID
	c.mu.Unlock()

	if err := c.dialAndHandshake(ctx); err != nil {
		return err
	}
	go c.maintainConnection(ctx)
	return nil
}

func (c *Client) dialAndHandshake(ctx context.Context) error {
	header := http.Header{}
	if c.authToken != "" {
		header.Set("Authorization", "Bearer "+c.authToken)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("hub: dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(ctx, conn)

	params, _ := json.Marshal(connectParams{TicketID: c.ticketID})
	if _, err := c.sendRequest(ctx, methodConnect, params); err != nil {
		_ = conn.Close()
		return fmt.Errorf("hub: connect handshake: %w", err)
	}

	c.markConnected()
	return nil
}

func (c *Client) markConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return
	}
	c.connected = true
	close(c.connectedCh)
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return
	}
	c.connected = false
	c.connectedCh = make(chan struct{})
}

func (c *Client) waitConnected(ctx context.Context, timeout time.Duration) bool {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return true
	}
	ch := c.connectedCh
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// maintainConnection redials with jittered backoff whenever the connection
// drops, until ctx is cancelled.
func (c *Client) maintainConnection(ctx context.Context) {
	policy := backoff.DefaultPolicy()
	attempt := 0
	for {
		<-c.waitForDisconnect(ctx)
		if ctx.Err() != nil {
			return
		}
		attempt++
		if err := backoff.SleepWithBackoff(ctx, policy, attempt); err != nil {
			return
		}
		if err := c.dialAndHandshake(ctx); err != nil {
			continue
		}
		attempt = 0
	}
}

// waitForDisconnect returns a channel that closes once the client is
// disconnected (immediately, if already disconnected).
func (c *Client) waitForDisconnect(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.mu.Lock()
		connected := c.connected
		ch := c.connectedCh
		c.mu.Unlock()
		if !connected {
			return
		}
		select {
		case <-ch:
		case <-ctx.Done():
		}
	}()
	return done
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
		c.markDisconnected()
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case "res":
			c.deliverResponse(&frame)
		case "event":
			c.handleEvent(&frame)
		}
	}
}

func (c *Client) deliverResponse(frame *wsFrame) {
	c.pendingMu.Lock()
	ch, ok := c.pending[frame.ID]
	if ok {
		delete(c.pending, frame.ID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- frame
	}
}

func (c *Client) handleEvent(frame *wsFrame) {
	switch frame.Event {
	case eventTicketUpdated:
		var payload ticketUpdatedPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return
		}
		var t ticket.Ticket
		if err := json.Unmarshal(payload.Ticket, &t); err != nil {
			return
		}
		c.mu.Lock()
		matches := t.ID == c.ticketID
		cancel := c.cancelActive
		c.mu.Unlock()
		if !matches {
			return
		}
		c.holder.Set(&t)
		c.signalChange()
		if t.Status != ticket.StatusActive && cancel != nil {
			cancel()
		}

	case eventWorkerChatMessage:
		var payload workerChatMessagePayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return
		}
		c.GetChatQueue(payload.ConversationID).Enqueue(ChatMessage{
			ConversationID: payload.ConversationID,
			Text:           payload.Text,
		})

	case eventClearConversation:
		var payload clearConversationPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return
		}
		c.clearQueue.Enqueue(payload.ConversationID)

	case eventSettingsUpdated:
		var payload settingsUpdatedPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return
		}
		var configs []settings.LLMConfig
		if err := json.Unmarshal(payload.LLMConfigs, &configs); err != nil {
			return
		}
		c.settingsQueue.Enqueue(configs)
	}
}

func (c *Client) signalChange() {
	select {
	case c.changeSignal <- struct{}{}:
	default:
	}
}

// WaitForTicketChange suspends until a ticket-id-matching change event is
// observed. Multiple pending changes collapse into one wake (spec §4.5).
func (c *Client) WaitForTicketChange(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.changeSignal:
		return nil
	}
}

// DrainPendingSignals non-blockingly clears any pending ticket-change wake.
func (c *Client) DrainPendingSignals() {
	for {
		select {
		case <-c.changeSignal:
		default:
			return
		}
	}
}

// GetChatQueue returns the queue of WorkerChatMessage events for
// conversationID, creating it on first access.
func (c *Client) GetChatQueue(conversationID string) *Queue[ChatMessage] {
	c.chatQueuesMu.Lock()
	defer c.chatQueuesMu.Unlock()
	q, ok := c.chatQueues[conversationID]
	if !ok {
		q = NewQueue[ChatMessage]()
		c.chatQueues[conversationID] = q
	}
	return q
}

// GetClearQueue returns the queue of ClearConversation events.
func (c *Client) GetClearQueue() *Queue[string] { return c.clearQueue }

// GetSettingsQueue returns the queue of SettingsUpdated events.
func (c *Client) GetSettingsQueue() *Queue[[]settings.LLMConfig] { return c.settingsQueue }

// SyncConversation is a best-effort send of a conversation snapshot.
func (c *Client) SyncConversation(ctx context.Context, conversationID string, snapshot json.RawMessage) error {
	params, err := json.Marshal(syncConversationParams{ConversationID: conversationID, Snapshot: snapshot})
	if err != nil {
		return err
	}
	return c.bestEffortSend(ctx, methodSyncConversation, params)
}

// FinishConversation is a best-effort notification that a conversation has
// reached a terminal state.
func (c *Client) FinishConversation(ctx context.Context, conversationID string) error {
	params, err := json.Marshal(finishConversationParams{ConversationID: conversationID})
	if err != nil {
		return err
	}
	return c.bestEffortSend(ctx, methodFinishConversation, params)
}

// ResetConversation is a best-effort notification that a conversation was
// reset (e.g. a context-reset stuck-counter nudge).
func (c *Client) ResetConversation(ctx context.Context, conversationID string) error {
	params, err := json.Marshal(resetConversationParams{ConversationID: conversationID})
	if err != nil {
		return err
	}
	return c.bestEffortSend(ctx, methodResetConversation, params)
}

// bestEffortSend waits for the automatic reconnect loop to restore
// connectivity (up to reconnectWaitCap), then makes one manual restart
// attempt before giving up (spec §4.5).
func (c *Client) bestEffortSend(ctx context.Context, method string, params json.RawMessage) error {
	if !c.waitConnected(ctx, reconnectWaitCap) {
		if err := c.dialAndHandshake(ctx); err != nil {
			return fmt.Errorf("hub: %s: connection unavailable: %w", method, err)
		}
	}
	_, err := c.sendRequest(ctx, method, params)
	return err
}

func (c *Client) sendRequest(ctx context.Context, method string, params json.RawMessage) (*wsFrame, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("hub: not connected")
	}

	id := strconv.FormatInt(atomic.AddInt64(&c.reqID, 1), 10)
	respCh := make(chan *wsFrame, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	frame := wsFrame{Type: "req", ID: id, Method: method, Params: params}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(requestTimeout))
	writeErr := conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if writeErr != nil {
		return nil, fmt.Errorf("hub: write: %w", writeErr)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	select {
	case resp := <-respCh:
		if resp.OK != nil && !*resp.OK {
			msg := "request failed"
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			return resp, fmt.Errorf("hub: %s: %s", method, msg)
		}
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("hub: %s: timed out waiting for response", method)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func normalizeURL(raw string) string {
	if strings.HasPrefix(raw, "http://") {
		return "ws://" + strings.TrimPrefix(raw, "http://")
	}
	if strings.HasPrefix(raw, "https://") {
		return "wss://" + strings.TrimPrefix(raw, "https://")
	}
	return raw
}
