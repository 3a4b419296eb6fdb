package store

import (
	"context"
	"log"

	"github.com/tyin88/agentgw/internal/domain"
)

// TieredStore layers the session cache over the durable store. Writes go
// durable-first then populate the cache; reads try the cache and fall back
// to the durable store, repopulating on miss. Every successful lookup is
// tagged with its resolution source so a cache-tier outage is
// distinguishable from a data-layer outage in the logs.
//
// Ownership is enforced here: a session owned by a different tenant hash is
// reported as ErrNotFound, never as a distinct forbidden signal.
type TieredStore struct {
	durable Store
	cache   SessionCache
}

// NewTieredStore composes the durable store with a session cache.
func NewTieredStore(durable Store, cache SessionCache) *TieredStore {
	return &TieredStore{durable: durable, cache: cache}
}

// Durable exposes the underlying durable store for non-session entities.
func (t *TieredStore) Durable() Store { return t.durable }

// CreateSession writes through: durable first, then cache.
func (t *TieredStore) CreateSession(ctx context.Context, session *domain.Session) error {
	if err := t.durable.CreateSession(ctx, session); err != nil {
		return err
	}
	t.cache.Put(session)
	return nil
}

// GetSession resolves a session for one tenant, reading through the cache.
func (t *TieredStore) GetSession(ctx context.Context, sessionID, ownerHash string) (*domain.Session, domain.LookupSource, error) {
	if session, ok := t.cache.Get(sessionID); ok {
		if session.OwnerHash != ownerHash {
			return nil, "", &domain.NotFoundError{Resource: "session", ID: sessionID}
		}
		log.Printf("INFO: session %s resolved from cache", sessionID)
		return session, domain.LookupSourceCache, nil
	}

	session, err := t.durable.GetSession(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	if session == nil || session.OwnerHash != ownerHash {
		return nil, "", &domain.NotFoundError{Resource: "session", ID: sessionID}
	}
	t.cache.Put(session)
	log.Printf("INFO: session %s resolved from durable store", sessionID)
	return session, domain.LookupSourceDurable, nil
}

// UpdateSession writes through and refreshes the cache with the stored row.
func (t *TieredStore) UpdateSession(ctx context.Context, sessionID string, update domain.SessionUpdate) (*domain.Session, error) {
	session, err := t.durable.UpdateSession(ctx, sessionID, update)
	if err != nil {
		// The cached copy may now be stale relative to a racing writer.
		t.cache.Delete(sessionID)
		return nil, err
	}
	t.cache.Put(session)
	return session, nil
}

// ListSessions always hits the durable store; list queries are not cached.
func (t *TieredStore) ListSessions(ctx context.Context, ownerHash string, page, pageSize int, filter domain.SessionFilter) ([]domain.Session, int, error) {
	return t.durable.ListSessions(ctx, ownerHash, page, pageSize, filter)
}
