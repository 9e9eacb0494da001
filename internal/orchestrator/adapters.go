package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/haasonsaas/ticketworker/internal/apiclient"
	"github.com/haasonsaas/ticketworker/internal/hub"
	"github.com/haasonsaas/ticketworker/internal/llm"
	"github.com/haasonsaas/ticketworker/internal/settings"
	"github.com/haasonsaas/ticketworker/internal/ticket"
)

// spendTracker implements llm.SpendTracker against the shared ticket
// Holder and API client, so every Conversation's Engine preflight and
// spend publication (spec §4.3 steps 2, 5) reads/writes the same ticket
// state the rest of the orchestrator observes.
type spendTracker struct {
	api    *apiclient.Client
	holder *ticket.Holder
}

func (s *spendTracker) CurrentSpend() float64 {
	t := s.holder.Get()
	if t == nil {
		return 0
	}
	return t.Spend
}

func (s *spendTracker) MaxCost() (float64, bool) {
	t := s.holder.Get()
	if t == nil || t.MaxCost == nil {
		return 0, false
	}
	return *t.MaxCost, true
}

func (s *spendTracker) RecordSpend(ctx context.Context, delta float64) error {
	total := delta
	if t := s.holder.Get(); t != nil {
		total += t.Spend
	}
	updated, err := s.api.UpdateCost(ctx, s.holder.ID(), total)
	if err != nil {
		return err
	}
	s.holder.Set(updated)
	return nil
}

// snapshotPublisher implements llm.SnapshotPublisher over the Hub Client,
// marshaling the Conversation's message history into the wire shape
// syncConversation expects (spec §4.3 step 12).
type snapshotPublisher struct {
	client *hub.Client
}

func (p *snapshotPublisher) SyncConversation(ctx context.Context, conv *llm.Conversation) error {
	if p.client == nil {
		return nil
	}
	snapshot, err := json.Marshal(struct {
		Messages []llm.Message `json:"messages"`
	}{Messages: conv.Messages})
	if err != nil {
		return err
	}
	return p.client.SyncConversation(ctx, conv.ID, snapshot)
}

// activityLogger implements llm.ActivityLogger by posting to the ticket's
// activity log; a rate-limited or failed post is dropped rather than
// surfaced, since activity logging is explicitly best-effort (spec §4.3.1
// "emit an activity-log warning", never aborting the turn loop).
type activityLogger struct {
	api      *apiclient.Client
	holder   *ticket.Holder
	fallback *slog.Logger
}

func (a *activityLogger) LogActivity(ctx context.Context, message string) {
	id := a.holder.ID()
	if id == "" {
		return
	}
	if err := a.api.PostActivity(ctx, id, message); err != nil && a.fallback != nil {
		a.fallback.Warn("activity log post dropped", "ticketId", id, "error", err)
	}
}

// settingsStore holds the mutable LLM configuration list and compaction
// mode an Engine reads indirectly, so a settingsUpdated event (spec
// §4.3.2) takes effect on the next call without rebuilding the Engine.
type settingsStore struct {
	current *settings.Settings
}

func newSettingsStore(s *settings.Settings) *settingsStore {
	return &settingsStore{current: s}
}

// Mode implements llm.CompactionModeGetter.
func (s *settingsStore) Mode() settings.CompactionMode {
	return s.current.Compaction.Type
}

func (s *settingsStore) setLLMConfigs(configs []settings.LLMConfig) {
	s.current.LLMConfigs = configs
}

func (s *settingsStore) providers() []*llm.Provider {
	providers := make([]*llm.Provider, 0, len(s.current.LLMConfigs))
	for _, cfg := range s.current.LLMConfigs {
		providers = append(providers, llm.NewProvider(cfg))
	}
	return providers
}
