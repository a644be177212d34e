package engine

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// GroupGenerator mints execution-group tokens. Every instance spawned by
// one start or mutation batch carries the same token.
type GroupGenerator interface {
	Generate() string
}

// UUIDv7Generator mints UUIDv7 tokens, which sort by creation time in
// recorded traces.
type UUIDv7Generator struct{}

// Generate implements GroupGenerator. It panics only if the system random
// source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequentialGenerator mints "<prefix>-1", "<prefix>-2", ... for
// reproducible traces and golden files. Safe for concurrent use.
type SequentialGenerator struct {
	prefix string
	n      atomic.Int64
}

// NewSequentialGenerator returns a generator using prefix, "group" when
// empty.
func NewSequentialGenerator(prefix string) *SequentialGenerator {
	if prefix == "" {
		prefix = "group"
	}
	return &SequentialGenerator{prefix: prefix}
}

// Generate implements GroupGenerator.
func (g *SequentialGenerator) Generate() string {
	return g.prefix + "-" + strconv.FormatInt(g.n.Add(1), 10)
}
