package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vaxrec/vaxrec/internal/platform/store"
)

// CompletionMarker is the key written after a successful import. Its
// presence short-circuits every later run.
const CompletionMarker = "vaxrec_migration_complete"

// migratedTypes lists the resource types the old record keeper exported,
// in import order. References only point at earlier types, so a partially
// failed run never leaves a record ahead of its referents.
var migratedTypes = []string{
	"Patient",
	"Encounter",
	"Medication",
	"Immunization",
	"MedicationAdministration",
}

// Report summarizes one import run.
type Report struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Dropped  int `json:"dropped"`
}

// Runner imports legacy flat key-value exports into the document store.
type Runner struct {
	kv  KV
	st  *store.Store
	log zerolog.Logger
}

func NewRunner(kv KV, st *store.Store, logger zerolog.Logger) *Runner {
	return &Runner{
		kv:  kv,
		st:  st,
		log: logger.With().Str("component", "legacy-import").Logger(),
	}
}

// Needed reports whether an import should run: at least one legacy key
// exists and the completion marker is absent.
func (r *Runner) Needed() (bool, error) {
	if _, ok, err := r.kv.Get(CompletionMarker); err != nil {
		return false, err
	} else if ok {
		return false, nil
	}
	for _, resourceType := range migratedTypes {
		if _, ok, err := r.kv.Get(r.st.Collection(resourceType).Name()); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
	}
	return false, nil
}

// Run imports every legacy key. Records already present in the store are
// skipped, so a run interrupted by a storage failure can simply be rerun.
// Keys or entries that fail to parse are dropped with a warning rather
// than blocking the rest of the import. The completion marker is written
// last, only after every key imported cleanly.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	var report Report

	if _, ok, err := r.kv.Get(CompletionMarker); err != nil {
		return report, err
	} else if ok {
		r.log.Debug().Msg("legacy import already complete")
		return report, nil
	}

	for _, resourceType := range migratedTypes {
		col := r.st.Collection(resourceType)
		key := col.Name()

		raw, ok, err := r.kv.Get(key)
		if err != nil {
			return report, err
		}
		if !ok {
			continue
		}

		var entries []json.RawMessage
		if err := json.Unmarshal(raw, &entries); err != nil {
			r.log.Warn().Str("key", key).Err(err).
				Msg("dropping unparseable legacy key")
			report.Dropped++
			if err := r.kv.Delete(key); err != nil {
				return report, err
			}
			continue
		}

		imported, skipped, dropped, err := r.importEntries(ctx, col, entries)
		report.Imported += imported
		report.Skipped += skipped
		report.Dropped += dropped
		if err != nil {
			return report, err
		}

		if err := r.kv.Delete(key); err != nil {
			return report, err
		}
		r.log.Info().Str("key", key).Int("imported", imported).
			Int("skipped", skipped).Int("dropped", dropped).
			Msg("legacy key imported")
	}

	marker := time.Now().UTC().Format(time.RFC3339)
	if err := r.kv.Put(CompletionMarker, []byte(marker)); err != nil {
		return report, err
	}
	return report, nil
}

func (r *Runner) importEntries(ctx context.Context, col *store.Collection, entries []json.RawMessage) (imported, skipped, dropped int, err error) {
	for _, entry := range entries {
		var fields map[string]interface{}
		if uerr := json.Unmarshal(entry, &fields); uerr != nil {
			r.log.Warn().Str("collection", col.Name()).Err(uerr).
				Msg("dropping unparseable legacy record")
			dropped++
			continue
		}

		id, _ := fields["id"].(string)
		if id == "" {
			id = uuid.NewString()
		}

		if _, gerr := col.Get(ctx, id); gerr == nil {
			skipped++
			continue
		} else if !errors.Is(gerr, store.ErrNotFound) {
			return imported, skipped, dropped, gerr
		}

		doc := &store.Document{ID: id, Body: entry}
		if at, ok := fields["updatedAt"].(string); ok {
			if parsed, perr := time.Parse(time.RFC3339, at); perr == nil {
				doc.UpdatedAt = parsed
			}
		}
		if _, perr := col.Put(ctx, doc); perr != nil {
			return imported, skipped, dropped, perr
		}
		imported++
	}
	return imported, skipped, dropped, nil
}
