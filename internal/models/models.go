// package models defines the data model for the pihome backend
package models

import (
	"context"
	"time"
)

// Model defines the base interface for all persistent models.
type Model interface {
	Identifier() string  // Identifier returns the unique identifier for this model
	Stamp(now time.Time) // Stamp sets CreatedAt when unset and always moves UpdatedAt
	Validate() error     // Validate checks if the model's data is valid and returns an error if not
}

// Repository defines the interface for data access operations.
// Implementations handle database interactions for specific model types.
type Repository[T Model] interface {
	Create(ctx context.Context, model T) error                      // Create inserts a new model into the database
	Get(ctx context.Context, id string) (T, error)                  // Get retrieves a model by its ID
	Update(ctx context.Context, model T) error                      // Update modifies an existing model in the database
	Delete(ctx context.Context, id string) error                    // Delete removes a model from the database by its ID
	List(ctx context.Context, criteria map[string]any) ([]T, error) // List retrieves all models matching the given criteria
}

// Record holds the identity and timestamps shared by every entity.
type Record struct {
	ID        string    `json:"id" bson:"_id"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Identifier implements [Model].
func (r *Record) Identifier() string { return r.ID }

// Stamp implements [Model].
func (r *Record) Stamp(now time.Time) {
	now = now.UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
}
