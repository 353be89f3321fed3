package models

import (
	"time"

	"github.com/google/uuid"
)

type EntityType string

const (
	EntityPerson  EntityType = "person"
	EntityVehicle EntityType = "vehicle"
)

// Entity is a recurring visual subject resolved via embedding similarity.
// The reference embedding is the running centroid of all matched events'
// embeddings, never a raw copy of any single one.
type Entity struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Type        EntityType `json:"type" db:"type"`
	Name        string     `json:"name,omitempty" db:"name"` // user-assigned; anonymous entities get Unknown-N
	Embedding   []float32  `json:"-" db:"embedding"`
	FirstSeen   time.Time  `json:"first_seen" db:"first_seen"`
	LastSeen    time.Time  `json:"last_seen" db:"last_seen"`
	Occurrences int        `json:"occurrences" db:"occurrences"`
	VIP         bool       `json:"vip" db:"vip"`
	Blocked     bool       `json:"blocked" db:"blocked"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// EntityNeighbor is a similarity search hit against entity centroids.
type EntityNeighbor struct {
	EntityID   uuid.UUID  `json:"entity_id"`
	Name       string     `json:"name"`
	Type       EntityType `json:"type"`
	Similarity float32    `json:"similarity"`
}
