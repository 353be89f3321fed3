package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/vigil/internal/config"
	"github.com/your-org/vigil/internal/models"
	"github.com/your-org/vigil/internal/observability"
)

// EntityStore is the slice of the event store the resolver needs.
type EntityStore interface {
	// SearchEntities returns the nearest entity centroids by cosine
	// similarity. A zero since means full search; otherwise only entities
	// seen after since are candidates.
	SearchEntities(ctx context.Context, embedding []float32, since time.Time, limit int) ([]models.EntityNeighbor, error)
	GetEntity(ctx context.Context, id uuid.UUID) (*models.Entity, error)
	// CreateEntity persists a new entity; anonymous entities receive their
	// Unknown-N name from the store.
	CreateEntity(ctx context.Context, e *models.Entity) error
	// UpdateEntityMatch writes the recomputed centroid, occurrence count
	// and last-seen timestamp.
	UpdateEntityMatch(ctx context.Context, id uuid.UUID, centroid []float32, occurrences int, lastSeen time.Time) error
}

// Resolver matches event fingerprints against historical entity centroids
// and maintains the clusters.
type Resolver struct {
	embedder Embedder
	store    EntityStore
	cfg      config.ResolverConfig

	resolves atomic.Uint64 // drives the periodic full search

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex // per-entity, guards centroid updates
}

func New(embedder Embedder, store EntityStore, cfg config.ResolverConfig) *Resolver {
	return &Resolver{
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// Resolve computes the event's embedding, finds every entity above the
// ambiguity threshold and maintains centroids for strong matches. When no
// neighbor qualifies and the event shows a person or vehicle, a new
// anonymous entity is created.
//
// Failure policy: an unavailable embedder or store degrades to an empty
// match list with a nil error. The pipeline continues without entity fields.
func (r *Resolver) Resolve(ctx context.Context, event *models.Event, frame []byte) (matches []models.EntityMatch, isNew bool, err error) {
	if len(frame) == 0 {
		return nil, false, nil
	}

	embedding, err := r.embedder.Embed(ctx, frame)
	if err != nil {
		slog.Warn("embedding unavailable, skipping entity resolution",
			"event_id", event.ID, "error", err)
		return nil, false, nil
	}
	event.Embedding = embedding

	since := event.Timestamp.Add(-r.cfg.RecencyHorizon)
	if n := r.resolves.Add(1); r.cfg.FullSearchEvery > 0 && n%uint64(r.cfg.FullSearchEvery) == 0 {
		since = time.Time{} // periodic full search catches long-absent subjects
	}

	neighbors, err := r.store.SearchEntities(ctx, embedding, since, r.cfg.MaxCandidates)
	if err != nil {
		slog.Warn("entity search failed, continuing without matches",
			"event_id", event.ID, "error", err)
		return nil, false, nil
	}

	for _, n := range neighbors {
		switch {
		case float64(n.Similarity) >= r.cfg.MatchThreshold:
			if err := r.mergeMatch(ctx, n.EntityID, embedding, event.Timestamp); err != nil {
				slog.Warn("centroid update failed", "entity_id", n.EntityID, "error", err)
			}
			matches = append(matches, models.EntityMatch{
				EntityID:   n.EntityID,
				Name:       n.Name,
				Similarity: n.Similarity,
			})
			observability.EntitiesMatched.WithLabelValues("strong").Inc()
		case float64(n.Similarity) >= r.cfg.AmbiguousBand:
			// Gray band: attach as a weak candidate without merging so a
			// partial match cannot pollute the cluster identity.
			matches = append(matches, models.EntityMatch{
				EntityID:   n.EntityID,
				Name:       n.Name,
				Similarity: n.Similarity,
				Weak:       true,
			})
			observability.EntitiesMatched.WithLabelValues("weak").Inc()
		}
	}

	// A weak candidate is still a candidate: only a sighting with no
	// neighbor in either band mints a new identity. Creating one on an
	// ambiguous match would seed a duplicate with the ambiguous fingerprint.
	if len(matches) == 0 {
		entityType, ok := subjectType(event.Description.Detections)
		if ok {
			entity, err := r.createEntity(ctx, entityType, embedding, event.Timestamp)
			if err != nil {
				slog.Warn("create entity failed", "event_id", event.ID, "error", err)
			} else {
				matches = append(matches, models.EntityMatch{
					EntityID:   entity.ID,
					Name:       entity.Name,
					Similarity: 1.0,
				})
				isNew = true
				observability.EntitiesCreated.Inc()
			}
		}
	}

	return matches, isNew, nil
}

// mergeMatch folds the embedding into the entity centroid as a weighted
// running average: new = old*n/(n+1) + emb/(n+1). The per-entity lock keeps
// concurrent matches on the same entity from losing updates.
func (r *Resolver) mergeMatch(ctx context.Context, id uuid.UUID, embedding []float32, seenAt time.Time) error {
	lock := r.entityLock(id)
	lock.Lock()
	defer lock.Unlock()

	entity, err := r.store.GetEntity(ctx, id)
	if err != nil {
		return fmt.Errorf("load entity: %w", err)
	}
	if entity == nil {
		return fmt.Errorf("entity %s vanished during match", id)
	}

	n := float64(entity.Occurrences)
	centroid := make([]float32, len(embedding))
	if len(entity.Embedding) == len(embedding) && n > 0 {
		for i := range embedding {
			centroid[i] = float32(float64(entity.Embedding[i])*n/(n+1) + float64(embedding[i])/(n+1))
		}
	} else {
		copy(centroid, embedding)
	}

	lastSeen := entity.LastSeen
	if seenAt.After(lastSeen) {
		lastSeen = seenAt
	}
	return r.store.UpdateEntityMatch(ctx, id, centroid, entity.Occurrences+1, lastSeen)
}

func (r *Resolver) createEntity(ctx context.Context, entityType models.EntityType, embedding []float32, seenAt time.Time) (*models.Entity, error) {
	entity := &models.Entity{
		ID:          uuid.New(),
		Type:        entityType,
		Embedding:   embedding,
		FirstSeen:   seenAt,
		LastSeen:    seenAt,
		Occurrences: 1,
	}
	if err := r.store.CreateEntity(ctx, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

func (r *Resolver) entityLock(id uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[id] = lock
	}
	return lock
}

// subjectType picks the entity type for a new cluster from the event's
// detections. Events with neither a person nor a vehicle (pure motion,
// animals, packages) do not spawn entities.
func subjectType(detections []models.Detection) (models.EntityType, bool) {
	var sawVehicle bool
	for _, d := range detections {
		switch d.Type {
		case "person":
			return models.EntityPerson, true
		case "vehicle":
			sawVehicle = true
		}
	}
	if sawVehicle {
		return models.EntityVehicle, true
	}
	return "", false
}
