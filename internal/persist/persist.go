package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"prompos/terminal/internal/domain"
)

const (
	SnapshotKey = "menuStore"
	GuestKey    = "guestUser"
)

var ErrCorrupt = errors.New("corrupt local snapshot")

// KV is durable local key-value storage.
type KV interface {
	// Get reports ok=false for a missing key.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Adapter mirrors terminal state into a KV backend.
type Adapter struct {
	kv KV
}

func NewAdapter(kv KV) *Adapter {
	return &Adapter{kv: kv}
}

func (a *Adapter) Close() error {
	return a.kv.Close()
}

// LoadSnapshot returns an empty snapshot when nothing was saved yet.
func (a *Adapter) LoadSnapshot(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	found, err := a.load(ctx, SnapshotKey, &snap)
	if err != nil || !found {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

func (a *Adapter) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	return a.save(ctx, SnapshotKey, snap)
}

func (a *Adapter) LoadGuest(ctx context.Context) (*domain.Identity, error) {
	var guest domain.Identity
	found, err := a.load(ctx, GuestKey, &guest)
	if err != nil || !found {
		return nil, err
	}
	return &guest, nil
}

func (a *Adapter) SaveGuest(ctx context.Context, guest domain.Identity) error {
	return a.save(ctx, GuestKey, guest)
}

func (a *Adapter) load(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := a.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return true, nil
}

func (a *Adapter) save(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := a.kv.Set(ctx, key, payload); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
