package network

import "context"

// MockBridgeController is an in-memory BridgeController for tests - it
// never touches vsock.
type MockBridgeController struct {
	Bridges map[string]bool
}

func NewMockBridgeController() *MockBridgeController {
	return &MockBridgeController{Bridges: make(map[string]bool)}
}

func (m *MockBridgeController) CreateBridge(ctx context.Context, networkID, subnet, gateway string) error {
	m.Bridges[networkID] = true
	return nil
}

func (m *MockBridgeController) DeleteBridge(ctx context.Context, networkID string) error {
	delete(m.Bridges, networkID)
	return nil
}

func (m *MockBridgeController) ListBridges(ctx context.Context) ([]string, error) {
	var ids []string
	for id := range m.Bridges {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MockBridgeController) Health(ctx context.Context) error { return nil }
