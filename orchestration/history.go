package orchestration

import "context"

// HistorySink persists a session's user/assistant turns across requests
// so a multi-turn conversation can hand prior context back to the
// coordinator. The core stays storage-free by default: NoOpHistorySink
// is the zero-value dependency, and Router only grows state when a
// caller opts in via WithHistorySink with a real backing sink such as
// RedisHistorySink.
type HistorySink interface {
	// Append records one message for sessionID.
	Append(ctx context.Context, sessionID string, msg Message) error
	// Load returns up to limit of the most recently appended messages
	// for sessionID, oldest first. limit<=0 means no limit.
	Load(ctx context.Context, sessionID string, limit int) ([]Message, error)
}

// NoOpHistorySink discards every append and always reports empty
// history, keeping Router stateless when no sink is configured.
type NoOpHistorySink struct{}

// Append implements HistorySink.
func (NoOpHistorySink) Append(context.Context, string, Message) error { return nil }

// Load implements HistorySink.
func (NoOpHistorySink) Load(context.Context, string, int) ([]Message, error) { return nil, nil }

var _ HistorySink = NoOpHistorySink{}
