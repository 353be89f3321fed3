package resolver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/vigil/internal/config"
	"github.com/your-org/vigil/internal/models"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ []byte) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

type memEntityStore struct {
	mu        sync.Mutex
	entities  map[uuid.UUID]*models.Entity
	anonSeq   int
	searchErr error
}

func newMemEntityStore() *memEntityStore {
	return &memEntityStore{entities: make(map[uuid.UUID]*models.Entity)}
}

func (s *memEntityStore) SearchEntities(_ context.Context, embedding []float32, since time.Time, limit int) ([]models.EntityNeighbor, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EntityNeighbor
	for _, e := range s.entities {
		if !since.IsZero() && e.LastSeen.Before(since) {
			continue
		}
		out = append(out, models.EntityNeighbor{
			EntityID:   e.ID,
			Name:       e.Name,
			Type:       e.Type,
			Similarity: Cosine(embedding, e.Embedding),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memEntityStore) GetEntity(_ context.Context, id uuid.UUID) (*models.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	cp.Embedding = append([]float32(nil), e.Embedding...)
	return &cp, nil
}

func (s *memEntityStore) CreateEntity(_ context.Context, e *models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Name == "" {
		s.anonSeq++
		e.Name = fmt.Sprintf("Unknown-%d", s.anonSeq)
	}
	cp := *e
	s.entities[e.ID] = &cp
	return nil
}

func (s *memEntityStore) UpdateEntityMatch(_ context.Context, id uuid.UUID, centroid []float32, occurrences int, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return errors.New("entity not found")
	}
	e.Embedding = append([]float32(nil), centroid...)
	e.Occurrences = occurrences
	e.LastSeen = lastSeen
	return nil
}

func testResolverCfg() config.ResolverConfig {
	return config.ResolverConfig{
		MatchThreshold:  0.80,
		AmbiguousBand:   0.60,
		RecencyHorizon:  30 * 24 * time.Hour,
		FullSearchEvery: 50,
		MaxCandidates:   10,
	}
}

func personEvent(ts time.Time) *models.Event {
	return &models.Event{
		ID:        uuid.New(),
		CameraID:  "front_door",
		Timestamp: ts,
		Description: models.Description{
			Text:       "person at door",
			Detections: []models.Detection{{Type: "person"}},
		},
	}
}

func unitVec(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func TestResolveCreatesAnonymousEntity(t *testing.T) {
	store := newMemEntityStore()
	emb := &fakeEmbedder{vec: unitVec(8, 0)}
	r := New(emb, store, testResolverCfg())

	ev := personEvent(time.Now())
	matches, isNew, err := r.Resolve(context.Background(), ev, []byte{0xff})
	require.NoError(t, err)

	assert.True(t, isNew)
	require.Len(t, matches, 1)
	assert.Equal(t, "Unknown-1", matches[0].Name)
	assert.Len(t, store.entities, 1)
	assert.Equal(t, emb.vec, ev.Embedding)
}

func TestResolveMatchesAndUpdatesCentroid(t *testing.T) {
	store := newMemEntityStore()
	r := New(&fakeEmbedder{vec: unitVec(8, 0)}, store, testResolverCfg())

	// Seed the cluster.
	first := personEvent(time.Now().Add(-time.Hour))
	_, isNew, err := r.Resolve(context.Background(), first, []byte{0xff})
	require.NoError(t, err)
	require.True(t, isNew)

	matches, isNew, err := r.Resolve(context.Background(), personEvent(time.Now()), []byte{0xff})
	require.NoError(t, err)

	assert.False(t, isNew)
	require.Len(t, matches, 1)
	assert.False(t, matches[0].Weak)

	for _, e := range store.entities {
		assert.Equal(t, 2, e.Occurrences)
	}
}

func TestCentroidConvergence(t *testing.T) {
	const dim = 16
	const k = 200

	store := newMemEntityStore()
	rng := rand.New(rand.NewSource(42))

	// Target point P on the unit sphere.
	p := make([]float32, dim)
	p[0], p[1] = 0.8, 0.6

	emb := &fakeEmbedder{}
	r := New(emb, store, testResolverCfg())

	ts := time.Now().Add(-k * time.Minute)
	for i := 0; i < k; i++ {
		// Tight cluster around P.
		v := make([]float32, dim)
		for j := range v {
			v[j] = p[j] + float32(rng.NormFloat64())*0.01
		}
		emb.vec = v
		_, _, err := r.Resolve(context.Background(), personEvent(ts.Add(time.Duration(i)*time.Minute)), []byte{0xff})
		require.NoError(t, err)
	}

	require.Len(t, store.entities, 1, "tight cluster must form a single entity")
	for _, e := range store.entities {
		assert.Equal(t, k, e.Occurrences)
		var dist float64
		for j := range p {
			d := float64(e.Embedding[j] - p[j])
			dist += d * d
		}
		assert.Less(t, math.Sqrt(dist), 0.01, "centroid converges to P")
	}
}

func TestGrayBandAttachesWeakWithoutMerge(t *testing.T) {
	store := newMemEntityStore()
	seed := &models.Entity{
		ID:          uuid.New(),
		Type:        models.EntityPerson,
		Name:        "John",
		Embedding:   unitVec(4, 0),
		Occurrences: 5,
		LastSeen:    time.Now(),
	}
	require.NoError(t, store.CreateEntity(context.Background(), seed))

	// cos(45°) ≈ 0.707: inside [0.60, 0.80).
	gray := []float32{float32(math.Sqrt2 / 2), float32(math.Sqrt2 / 2), 0, 0}
	r := New(&fakeEmbedder{vec: gray}, store, testResolverCfg())

	matches, isNew, err := r.Resolve(context.Background(), personEvent(time.Now()), []byte{0xff})
	require.NoError(t, err)

	require.Len(t, matches, 1)
	assert.True(t, matches[0].Weak)
	assert.Equal(t, seed.ID, matches[0].EntityID)

	// Weak candidates must not pollute the cluster.
	stored := store.entities[seed.ID]
	assert.Equal(t, 5, stored.Occurrences)
	assert.Equal(t, unitVec(4, 0), stored.Embedding)

	// An ambiguous sighting of a known subject is still a candidate: it must
	// not mint a duplicate identity seeded with the ambiguous fingerprint.
	assert.False(t, isNew)
	assert.Len(t, store.entities, 1)
}

func TestNoCandidateInEitherBandCreatesEntity(t *testing.T) {
	store := newMemEntityStore()
	seed := &models.Entity{
		ID:          uuid.New(),
		Type:        models.EntityPerson,
		Name:        "John",
		Embedding:   unitVec(4, 0),
		Occurrences: 5,
		LastSeen:    time.Now(),
	}
	require.NoError(t, store.CreateEntity(context.Background(), seed))

	// Orthogonal to the seed: below the ambiguity threshold.
	r := New(&fakeEmbedder{vec: unitVec(4, 1)}, store, testResolverCfg())

	matches, isNew, err := r.Resolve(context.Background(), personEvent(time.Now()), []byte{0xff})
	require.NoError(t, err)

	assert.True(t, isNew)
	require.Len(t, matches, 1)
	assert.NotEqual(t, seed.ID, matches[0].EntityID)
	assert.Len(t, store.entities, 2)
}

func TestMultiSubjectReturnsEveryMatchAboveThreshold(t *testing.T) {
	store := newMemEntityStore()
	now := time.Now()
	for _, name := range []string{"John", "Unknown-17"} {
		require.NoError(t, store.CreateEntity(context.Background(), &models.Entity{
			ID:          uuid.New(),
			Type:        models.EntityPerson,
			Name:        name,
			Embedding:   unitVec(4, 0),
			Occurrences: 3,
			LastSeen:    now,
		}))
	}

	r := New(&fakeEmbedder{vec: unitVec(4, 0)}, store, testResolverCfg())
	matches, _, err := r.Resolve(context.Background(), personEvent(now), []byte{0xff})
	require.NoError(t, err)

	assert.Len(t, matches, 2, "resolver returns every match above threshold, not just the best")
}

func TestEmbedderOutageDegradesGracefully(t *testing.T) {
	store := newMemEntityStore()
	r := New(&fakeEmbedder{err: errors.New("model offline")}, store, testResolverCfg())

	matches, isNew, err := r.Resolve(context.Background(), personEvent(time.Now()), []byte{0xff})
	require.NoError(t, err, "embedder outage is degradation, not an error")
	assert.Empty(t, matches)
	assert.False(t, isNew)
	assert.Empty(t, store.entities)
}

func TestSearchFailureDegradesGracefully(t *testing.T) {
	store := newMemEntityStore()
	store.searchErr = errors.New("db down")
	r := New(&fakeEmbedder{vec: unitVec(4, 0)}, store, testResolverCfg())

	matches, _, err := r.Resolve(context.Background(), personEvent(time.Now()), []byte{0xff})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMotionOnlyEventSpawnsNoEntity(t *testing.T) {
	store := newMemEntityStore()
	r := New(&fakeEmbedder{vec: unitVec(4, 0)}, store, testResolverCfg())

	ev := personEvent(time.Now())
	ev.Description.Detections = []models.Detection{{Type: "motion"}}

	matches, isNew, err := r.Resolve(context.Background(), ev, []byte{0xff})
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.False(t, isNew)
}

func TestConcurrentMatchesKeepOccurrenceCount(t *testing.T) {
	store := newMemEntityStore()
	seedVec := unitVec(4, 0)
	seed := &models.Entity{
		ID:          uuid.New(),
		Type:        models.EntityPerson,
		Embedding:   seedVec,
		Occurrences: 1,
		LastSeen:    time.Now(),
	}
	require.NoError(t, store.CreateEntity(context.Background(), seed))

	r := New(&fakeEmbedder{vec: seedVec}, store, testResolverCfg())

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := r.Resolve(context.Background(), personEvent(time.Now()), []byte{0xff})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1+n, store.entities[seed.ID].Occurrences,
		"per-entity lock must prevent lost centroid updates")
}
