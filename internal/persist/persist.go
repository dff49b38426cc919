package persist

import (
	"context"
	"fmt"

	"github.com/invisible-tech/aion/internal/organism"
)

// Save encodes t and writes it to store, returning the bytes written.
// Failures are *WriteError.
func Save(ctx context.Context, store Store, t *organism.Topology) ([]byte, error) {
	data := Encode(t)
	if err := store.Write(ctx, data); err != nil {
		return nil, &WriteError{Target: store.Location(), Err: err}
	}
	return data, nil
}

// Load reads the saved state and applies it to t. It reports false, with a
// nil error, when nothing has been saved. On any error t is left unchanged.
func Load(ctx context.Context, store Store, t *organism.Topology) (bool, error) {
	data, ok, err := store.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("read state from %s: %w", store.Location(), err)
	}
	if !ok {
		return false, nil
	}
	records, err := Decode(data)
	if err != nil {
		return false, err
	}
	if err := Apply(records, t); err != nil {
		return false, fmt.Errorf("apply state: %w", err)
	}
	return true, nil
}
