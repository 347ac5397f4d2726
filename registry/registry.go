// Package registry implements the Agent Registry (C4): an in-memory,
// atomically-swapped catalog of discovered specialists, built on a
// Refresh-then-atomic-swap shape backed by transport.Discover's
// well-known-URI fetch (see DESIGN.md).
package registry

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/relaymesh/orchestrator/core"
	"github.com/relaymesh/orchestrator/transport"
)

// Entry pairs an AgentCard with routing metadata shown to the planning
// model and used for keyword fallback.
type Entry struct {
	Card        *transport.AgentCard `json:"card"`
	Description string               `json:"description"`
	Keywords    []string             `json:"keywords,omitempty"`
	Examples    []string             `json:"examples,omitempty"`
}

// snapshot is the immutable value a Registry points to; readers always see
// either the whole old snapshot or the whole new one, never a torn mix.
type snapshot struct {
	byName map[string]*Entry
	names  []string // stable iteration order, insertion order at build time
}

// Registry is the process-wide specialist catalog. Entries are immutable
// once built; the registry is rebuilt wholesale on rediscovery and swapped
// in atomically.
type Registry struct {
	current atomic.Pointer[snapshot]
	log     core.Logger

	mu sync.Mutex // serializes concurrent Refresh calls
}

// New constructs an empty Registry.
func New(log core.Logger) *Registry {
	if log == nil {
		log = &core.NoOpLogger{}
	}
	r := &Registry{log: log}
	r.current.Store(&snapshot{byName: map[string]*Entry{}})
	return r
}

// RefreshOption configures one Refresh call.
type RefreshOption func(*refreshOptions)

type refreshOptions struct {
	rosterFile string
}

// WithRosterFile supplements HTTP-discovered base URLs with a static YAML
// roster file (ORCH_AGENTS_FILE): specialists it declares that HTTP
// discovery didn't already find under the same name are added as-is,
// skipping the well-known-URI fetch entirely for those entries.
func WithRosterFile(path string) RefreshOption {
	return func(o *refreshOptions) { o.rosterFile = path }
}

// Refresh discovers agent cards for baseURLs, optionally merges a static
// YAML roster, and atomically replaces the registry's contents.
// Discovering the same inputs twice produces the same registry by value:
// Refresh does not merge with the previous snapshot, it replaces it
// wholesale.
func (r *Registry) Refresh(ctx context.Context, baseURLs []string, opts ...RefreshOption) {
	var ro refreshOptions
	for _, opt := range opts {
		opt(&ro)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cards := transport.Discover(ctx, nil, baseURLs, r.log)

	byName := make(map[string]*Entry, len(cards))
	names := make([]string, 0, len(cards))
	for _, card := range cards {
		entry := &Entry{
			Card:        card,
			Description: card.Description,
			Keywords:    deriveKeywords(card),
		}
		byName[card.Name] = entry
		names = append(names, card.Name)
	}

	rosterCount := 0
	if ro.rosterFile != "" {
		rosterEntries, err := loadRosterFile(ro.rosterFile)
		if err != nil {
			r.log.ErrorWithContext(ctx, "registry: roster file load failed", map[string]interface{}{
				"file": ro.rosterFile, "error": err.Error(),
			})
		} else {
			for _, entry := range rosterEntries {
				if _, exists := byName[entry.Card.Name]; exists {
					continue // an HTTP-discovered card for the same name takes precedence
				}
				byName[entry.Card.Name] = entry
				names = append(names, entry.Card.Name)
				rosterCount++
			}
		}
	}

	r.current.Store(&snapshot{byName: byName, names: names})
	r.log.InfoWithContext(ctx, "registry refreshed", map[string]interface{}{
		"agent_count":  len(names),
		"roster_count": rosterCount,
	})
}

// deriveKeywords builds a simple fallback keyword list from the card's
// declared capability tags plus lower-cased words of its description,
// used when the model's structured routing answer cannot be parsed.
func deriveKeywords(card *transport.AgentCard) []string {
	keywords := append([]string{}, card.Capabilities...)
	for _, word := range strings.Fields(strings.ToLower(card.Description)) {
		word = strings.Trim(word, ".,;:!?()\"'")
		if len(word) > 3 {
			keywords = append(keywords, word)
		}
	}
	return keywords
}

// List returns every registered entry, in discovery order.
func (r *Registry) List() []*Entry {
	snap := r.current.Load()
	out := make([]*Entry, 0, len(snap.names))
	for _, name := range snap.names {
		out = append(out, snap.byName[name])
	}
	return out
}

// Get returns the entry for name, case-sensitively.
func (r *Registry) Get(name string) (*Entry, bool) {
	snap := r.current.Load()
	entry, ok := snap.byName[name]
	return entry, ok
}

// Len reports the number of registered specialists.
func (r *Registry) Len() int {
	return len(r.current.Load().names)
}

// describeEntry is the stable JSON shape Describe() emits per specialist.
type describeEntry struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// Describe produces a stable JSON summary of the registry for the
// planning model.
func (r *Registry) Describe() (string, error) {
	snap := r.current.Load()
	entries := make([]describeEntry, 0, len(snap.names))
	for _, name := range snap.names {
		e := snap.byName[name]
		entries = append(entries, describeEntry{
			Name:        name,
			Description: e.Description,
			Keywords:    e.Keywords,
			Examples:    e.Examples,
		})
	}
	out, err := json.Marshal(entries)
	if err != nil {
		return "", core.NewFrameworkError("Registry.Describe", core.KindInternal, err)
	}
	return string(out), nil
}

// PromptSummary builds the "name: description" enumeration the Routing
// Host embeds in its system prompt.
func (r *Registry) PromptSummary() string {
	snap := r.current.Load()
	var b strings.Builder
	for _, name := range snap.names {
		e := snap.byName[name]
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(e.Description)
		b.WriteString("\n")
	}
	return b.String()
}
