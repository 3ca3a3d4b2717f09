package replication

import (
	"bytes"
	"context"
	"errors"

	"github.com/vaxrec/vaxrec/internal/platform/store"
)

// Apply folds one remote change into the local collection under the
// last-write-wins policy: the copy with the later updatedAt becomes
// canonical, ties resolve to the remote copy. It goes through the store's
// optimistic Put like any other writer, re-reading on revision races.
// The return reports whether the local side changed.
func Apply(ctx context.Context, col *store.Collection, change store.Change) (bool, error) {
	for {
		local, err := col.GetAny(ctx, change.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			local = nil
		case err != nil:
			return false, err
		}

		if local != nil {
			if local.UpdatedAt.After(change.UpdatedAt) {
				// Local copy is newer; the push direction will make it
				// canonical on the remote.
				return false, nil
			}
			if sameDocument(local, change) {
				return false, nil
			}
		}

		var rev int64
		if local != nil {
			rev = local.Rev
		}
		_, err = col.PutRaw(ctx, &store.Document{
			ID:        change.ID,
			Rev:       rev,
			Deleted:   change.Deleted,
			UpdatedAt: change.UpdatedAt,
			Body:      change.Doc,
		})
		if errors.Is(err, store.ErrConflict) {
			// A concurrent local write landed; re-read and re-resolve.
			continue
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
}

func sameDocument(local *store.Document, change store.Change) bool {
	return local.Deleted == change.Deleted &&
		local.UpdatedAt.Equal(change.UpdatedAt) &&
		bytes.Equal(local.Body, change.Doc)
}
