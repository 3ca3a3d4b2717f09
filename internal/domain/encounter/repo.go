package encounter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vaxrec/vaxrec/internal/platform/store"
)

// Repository persists encounters. Encounters are create-only in current
// scope, so there is no update path.
type Repository interface {
	Create(ctx context.Context, e *Encounter) error
	Get(ctx context.Context, id string) (*Encounter, error)
	List(ctx context.Context, start string, limit int) ([]*Encounter, error)
}

type docRepo struct {
	col *store.Collection
}

func NewRepository(st *store.Store) Repository {
	return &docRepo{col: st.Collection("Encounter")}
}

func (r *docRepo) Create(ctx context.Context, e *Encounter) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = r.col.Put(ctx, &store.Document{ID: e.ID, UpdatedAt: e.UpdatedAt, Body: body})
	return err
}

func (r *docRepo) Get(ctx context.Context, id string) (*Encounter, error) {
	doc, err := r.col.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return decode(doc)
}

func (r *docRepo) List(ctx context.Context, start string, limit int) ([]*Encounter, error) {
	docs, err := r.col.List(ctx, start, "", limit)
	if err != nil {
		return nil, err
	}
	encounters := make([]*Encounter, 0, len(docs))
	for _, doc := range docs {
		e, err := decode(doc)
		if err != nil {
			return nil, err
		}
		encounters = append(encounters, e)
	}
	return encounters, nil
}

func decode(doc *store.Document) (*Encounter, error) {
	var e Encounter
	if err := json.Unmarshal(doc.Body, &e); err != nil {
		return nil, err
	}
	e.ID = doc.ID
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = doc.UpdatedAt
	}
	return &e, nil
}
