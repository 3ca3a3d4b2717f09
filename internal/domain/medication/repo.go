package medication

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vaxrec/vaxrec/internal/platform/store"
)

type Repository interface {
	Create(ctx context.Context, m *Medication) error
	Get(ctx context.Context, id string) (*Medication, error)
	// FindByCode scans for the medication carrying the vaccine code;
	// store.ErrNotFound when no document matches.
	FindByCode(ctx context.Context, code string) (*Medication, error)
	List(ctx context.Context, start string, limit int) ([]*Medication, error)
}

type docRepo struct {
	col *store.Collection
}

func NewRepository(st *store.Store) Repository {
	return &docRepo{col: st.Collection("Medication")}
}

func (r *docRepo) Create(ctx context.Context, m *Medication) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = r.col.Put(ctx, &store.Document{ID: m.ID, UpdatedAt: m.UpdatedAt, Body: body})
	return err
}

func (r *docRepo) Get(ctx context.Context, id string) (*Medication, error) {
	doc, err := r.col.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return decode(doc)
}

func (r *docRepo) FindByCode(ctx context.Context, code string) (*Medication, error) {
	const page = 100
	start := ""
	for {
		docs, err := r.col.List(ctx, start, "", page)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			m, err := decode(doc)
			if err != nil {
				continue
			}
			if m.VaccineCode() == code {
				return m, nil
			}
		}
		if len(docs) < page {
			return nil, store.ErrNotFound
		}
		start = docs[len(docs)-1].ID + "\x00"
	}
}

func (r *docRepo) List(ctx context.Context, start string, limit int) ([]*Medication, error) {
	docs, err := r.col.List(ctx, start, "", limit)
	if err != nil {
		return nil, err
	}
	medications := make([]*Medication, 0, len(docs))
	for _, doc := range docs {
		m, err := decode(doc)
		if err != nil {
			return nil, err
		}
		medications = append(medications, m)
	}
	return medications, nil
}

func decode(doc *store.Document) (*Medication, error) {
	var m Medication
	if err := json.Unmarshal(doc.Body, &m); err != nil {
		return nil, err
	}
	m.ID = doc.ID
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = doc.UpdatedAt
	}
	return &m, nil
}
