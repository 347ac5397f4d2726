package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relaymesh/orchestrator/core"
	"github.com/relaymesh/orchestrator/transport"
)

// rosterFile is the on-disk shape of an ORCH_AGENTS_FILE roster: a static
// list of specialists declared by JSON-RPC endpoint, as an alternative to
// discovering every one of them over HTTP at boot.
type rosterFile struct {
	Agents []rosterAgent `yaml:"agents"`
}

type rosterAgent struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Endpoint     string   `yaml:"endpoint"`
	Capabilities []string `yaml:"capabilities"`
	Keywords     []string `yaml:"keywords"`
	Examples     []string `yaml:"examples"`
}

// loadRosterFile parses path into Entry values keyed by name, skipping
// agents missing a name or endpoint rather than failing the whole file.
func loadRosterFile(path string) ([]*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.NewFrameworkError("registry.loadRosterFile", core.KindInternal, err)
	}

	var rf rosterFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, core.NewFrameworkError("registry.loadRosterFile", core.KindInternal, fmt.Errorf("%s: %w", path, err))
	}

	entries := make([]*Entry, 0, len(rf.Agents))
	for _, a := range rf.Agents {
		if a.Name == "" || a.Endpoint == "" {
			continue
		}
		card := &transport.AgentCard{
			Name:         a.Name,
			Description:  a.Description,
			Protocol:     transport.JSONRPCProtocol,
			Endpoints:    transport.AgentEndpoints{JSONRPC: a.Endpoint},
			Capabilities: a.Capabilities,
		}
		keywords := a.Keywords
		if len(keywords) == 0 {
			keywords = deriveKeywords(card)
		}
		entries = append(entries, &Entry{
			Card:        card,
			Description: a.Description,
			Keywords:    keywords,
			Examples:    a.Examples,
		})
	}
	return entries, nil
}
