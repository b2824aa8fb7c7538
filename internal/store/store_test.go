package store

import (
	"context"
	"time"

	"github.com/hyperengineering/nailguard/internal/types"
)

// mockStore is a compile-time check that the Store interface can be implemented.
type mockStore struct{}

var _ Store = (*mockStore)(nil)

func (m *mockStore) InsertIfAbsent(ctx context.Context, ev types.Event) (bool, error) {
	return false, nil
}
func (m *mockStore) InsertBatch(ctx context.Context, events []types.Event) (int, error) {
	return 0, nil
}
func (m *mockStore) CountInRange(ctx context.Context, start, end time.Time) (int, error) {
	return 0, nil
}
func (m *mockStore) ListRange(ctx context.Context, start, end time.Time) ([]types.Event, error) {
	return nil, nil
}
func (m *mockStore) GetStats(ctx context.Context) (*types.StoreStats, error) {
	return nil, nil
}
func (m *mockStore) Close() error {
	return nil
}
