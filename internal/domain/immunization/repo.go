package immunization

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vaxrec/vaxrec/internal/platform/store"
)

type Repository interface {
	Create(ctx context.Context, im *Immunization) error
	Get(ctx context.Context, id string) (*Immunization, error)
	List(ctx context.Context, start string, limit int) ([]*Immunization, error)
}

type docRepo struct {
	col *store.Collection
}

func NewRepository(st *store.Store) Repository {
	return &docRepo{col: st.Collection("Immunization")}
}

func (r *docRepo) Create(ctx context.Context, im *Immunization) error {
	if im.ID == "" {
		im.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	im.CreatedAt = now
	im.UpdatedAt = now

	body, err := json.Marshal(im)
	if err != nil {
		return err
	}
	_, err = r.col.Put(ctx, &store.Document{ID: im.ID, UpdatedAt: im.UpdatedAt, Body: body})
	return err
}

func (r *docRepo) Get(ctx context.Context, id string) (*Immunization, error) {
	doc, err := r.col.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return decode(doc)
}

func (r *docRepo) List(ctx context.Context, start string, limit int) ([]*Immunization, error) {
	docs, err := r.col.List(ctx, start, "", limit)
	if err != nil {
		return nil, err
	}
	immunizations := make([]*Immunization, 0, len(docs))
	for _, doc := range docs {
		im, err := decode(doc)
		if err != nil {
			return nil, err
		}
		immunizations = append(immunizations, im)
	}
	return immunizations, nil
}

func decode(doc *store.Document) (*Immunization, error) {
	var im Immunization
	if err := json.Unmarshal(doc.Body, &im); err != nil {
		return nil, err
	}
	im.ID = doc.ID
	if im.UpdatedAt.IsZero() {
		im.UpdatedAt = doc.UpdatedAt
	}
	return &im, nil
}
