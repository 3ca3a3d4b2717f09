package medicationadministration

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vaxrec/vaxrec/internal/platform/store"
)

type Repository interface {
	Create(ctx context.Context, ma *MedicationAdministration) error
	Get(ctx context.Context, id string) (*MedicationAdministration, error)
	List(ctx context.Context, start string, limit int) ([]*MedicationAdministration, error)
}

type docRepo struct {
	col *store.Collection
}

func NewRepository(st *store.Store) Repository {
	return &docRepo{col: st.Collection("MedicationAdministration")}
}

func (r *docRepo) Create(ctx context.Context, ma *MedicationAdministration) error {
	if ma.ID == "" {
		ma.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ma.CreatedAt = now
	ma.UpdatedAt = now

	body, err := json.Marshal(ma)
	if err != nil {
		return err
	}
	_, err = r.col.Put(ctx, &store.Document{ID: ma.ID, UpdatedAt: ma.UpdatedAt, Body: body})
	return err
}

func (r *docRepo) Get(ctx context.Context, id string) (*MedicationAdministration, error) {
	doc, err := r.col.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return decode(doc)
}

func (r *docRepo) List(ctx context.Context, start string, limit int) ([]*MedicationAdministration, error) {
	docs, err := r.col.List(ctx, start, "", limit)
	if err != nil {
		return nil, err
	}
	administrations := make([]*MedicationAdministration, 0, len(docs))
	for _, doc := range docs {
		ma, err := decode(doc)
		if err != nil {
			return nil, err
		}
		administrations = append(administrations, ma)
	}
	return administrations, nil
}

func decode(doc *store.Document) (*MedicationAdministration, error) {
	var ma MedicationAdministration
	if err := json.Unmarshal(doc.Body, &ma); err != nil {
		return nil, err
	}
	ma.ID = doc.ID
	if ma.UpdatedAt.IsZero() {
		ma.UpdatedAt = doc.UpdatedAt
	}
	return &ma, nil
}
