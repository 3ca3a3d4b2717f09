package patient

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vaxrec/vaxrec/internal/platform/store"
)

// Repository persists patients. Revision tokens stay inside the
// implementation; callers see store errors unchanged.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	Get(ctx context.Context, id string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, start string, limit int) ([]*Patient, error)
}

type docRepo struct {
	col *store.Collection
}

// NewRepository builds a Repository over the patient collection.
func NewRepository(st *store.Store) Repository {
	return &docRepo{col: st.Collection("Patient")}
}

func (r *docRepo) Create(ctx context.Context, p *Patient) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = r.col.Put(ctx, &store.Document{ID: p.ID, UpdatedAt: p.UpdatedAt, Body: body})
	return err
}

func (r *docRepo) Get(ctx context.Context, id string) (*Patient, error) {
	doc, err := r.col.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return decode(doc)
}

func (r *docRepo) Update(ctx context.Context, p *Patient) error {
	current, err := r.col.Get(ctx, p.ID)
	if err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()

	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = r.col.Put(ctx, &store.Document{
		ID:        p.ID,
		Rev:       current.Rev,
		UpdatedAt: p.UpdatedAt,
		Body:      body,
	})
	return err
}

func (r *docRepo) Delete(ctx context.Context, id string) error {
	current, err := r.col.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = r.col.Remove(ctx, id, current.Rev)
	return err
}

func (r *docRepo) List(ctx context.Context, start string, limit int) ([]*Patient, error) {
	docs, err := r.col.List(ctx, start, "", limit)
	if err != nil {
		return nil, err
	}
	patients := make([]*Patient, 0, len(docs))
	for _, doc := range docs {
		p, err := decode(doc)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, nil
}

func decode(doc *store.Document) (*Patient, error) {
	var p Patient
	if err := json.Unmarshal(doc.Body, &p); err != nil {
		return nil, err
	}
	p.ID = doc.ID
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = doc.UpdatedAt
	}
	return &p, nil
}
