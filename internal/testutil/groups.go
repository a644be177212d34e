package testutil

import (
	"fmt"
	"sync"
)

// ScriptedGroups hands out execution-group tokens named by a scenario, in
// order. Once the script runs out it continues with "group-<n>", where n
// counts every token handed out so far. It satisfies engine.GroupGenerator.
type ScriptedGroups struct {
	mu     sync.Mutex
	tokens []string
	n      int
}

// NewScriptedGroups returns a generator for tokens.
func NewScriptedGroups(tokens ...string) *ScriptedGroups {
	return &ScriptedGroups{tokens: tokens}
}

// Generate returns the next token.
func (g *ScriptedGroups) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	if g.n <= len(g.tokens) {
		return g.tokens[g.n-1]
	}
	return fmt.Sprintf("group-%d", g.n)
}

// Reset rewinds to the first token.
func (g *ScriptedGroups) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
