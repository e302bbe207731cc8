package layout

import "context"

// Store decides which layout is committed for each epoch. At most one layout
// is ever committed per epoch.
type Store interface {
	// Commit records l for l.Epoch. Committing an identical layout again
	// succeeds; a different one fails ErrEpochTaken.
	Commit(ctx context.Context, l Layout) error
	// Get returns the layout committed for epoch or ErrNotFound.
	Get(ctx context.Context, epoch uint64) (Layout, error)
	// Latest returns the highest committed layout or ErrNotFound.
	Latest(ctx context.Context) (Layout, error)
}

// resolveConflict turns a create collision into success when the stored
// layout is the same one being committed.
func resolveConflict(ctx context.Context, s Store, l Layout) error {
	existing, err := s.Get(ctx, l.Epoch)
	if err != nil {
		return err
	}
	if existing.Equal(l) {
		return nil
	}
	return ErrEpochTaken
}
