// Package service wires the store, checkpoint ledger, stream registry,
// policy engine and agent engine behind the operations the transport
// exposes.
package service

import (
	"github.com/tyin88/agentgw/internal/checkpoint"
	"github.com/tyin88/agentgw/internal/config"
	"github.com/tyin88/agentgw/internal/engine"
	"github.com/tyin88/agentgw/internal/policy"
	"github.com/tyin88/agentgw/internal/store"
	"github.com/tyin88/agentgw/internal/stream"
)

// defaultTools is the candidate tool set offered to every stream before
// policy filtering.
var defaultTools = []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep", "WebFetch"}

type Service struct {
	sessions *store.TieredStore
	store    store.Store
	ledger   *checkpoint.Ledger
	registry *stream.Registry
	engine   engine.Engine
	policy   *policy.Engine
	config   *config.Config
}

func New(durable store.Store, cache store.SessionCache, eng engine.Engine, policyEngine *policy.Engine, cfg *config.Config) *Service {
	return &Service{
		sessions: store.NewTieredStore(durable, cache),
		store:    durable,
		ledger:   checkpoint.NewLedger(durable),
		registry: stream.NewRegistry(),
		engine:   eng,
		policy:   policyEngine,
		config:   cfg,
	}
}

// Registry exposes the stream signal registry, for tests.
func (s *Service) Registry() *stream.Registry { return s.registry }
