package container

import (
	"context"

	"github.com/vesseld/vesseld/pkg/apierror"
	"github.com/vesseld/vesseld/pkg/logstore"
)

// Logs returns containerID's matched historical log records.
func (m *Manager) Logs(containerID string, opts logstore.ReadOptions) ([]logstore.Record, error) {
	if _, err := m.Get(containerID); err != nil {
		return nil, err
	}
	recs, err := m.logs.Read(containerID, opts)
	if err != nil {
		return nil, apierror.Internal("read logs: %v", err)
	}
	return recs, nil
}

// FollowLogs streams containerID's historical window through emit, then
// blocks delivering newly written lines until ctx is cancelled.
func (m *Manager) FollowLogs(ctx context.Context, containerID string, opts logstore.ReadOptions, emit func(logstore.Record)) error {
	if _, err := m.Get(containerID); err != nil {
		return err
	}
	if err := m.logs.Follow(ctx, containerID, opts, emit); err != nil {
		return apierror.Internal("follow logs: %v", err)
	}
	return nil
}
