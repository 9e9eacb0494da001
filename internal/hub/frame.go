package hub

import "encoding/json"

// wsFrame is the envelope every message crosses the wire in, grounded on
// the teacher's internal/gateway/ws_control_plane.go wsFrame shape, with
// the method/event vocabulary narrowed to the six methods/events spec
// §4.5/§6 names for the worker-side Hub Client.
type wsFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Outgoing request methods (spec §4.5 public contract).
const (
	methodConnect             = "connect"
	methodSyncConversation    = "syncConversation"
	methodFinishConversation  = "finishConversation"
	methodResetConversation   = "resetConversation"
)

// Incoming event names (spec §4.5 "State events received").
const (
	eventTicketUpdated      = "ticketUpdated"
	eventWorkerChatMessage  = "workerChatMessage"
	eventClearConversation  = "clearConversation"
	eventSettingsUpdated    = "settingsUpdated"
)

type connectParams struct {
	TicketID string `json:"ticketId"`
}

type syncConversationParams struct {
	ConversationID string          `json:"conversationId"`
	Snapshot       json.RawMessage `json:"snapshot"`
}

type finishConversationParams struct {
	ConversationID string `json:"conversationId"`
}

type resetConversationParams struct {
	ConversationID string `json:"conversationId"`
}

type ticketUpdatedPayload struct {
	Ticket json.RawMessage `json:"ticket"`
}

type workerChatMessagePayload struct {
	TicketID       string `json:"ticketId"`
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
}

type clearConversationPayload struct {
	TicketID       string `json:"ticketId"`
	ConversationID string `json:"conversationId"`
}

type settingsUpdatedPayload struct {
	LLMConfigs json.RawMessage `json:"llmConfigs"`
}
