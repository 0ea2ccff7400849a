package network

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/mdlayher/vsock"
)

// BridgeControllerPort is the vsock port the hypervisor's in-guest (really:
// in-hypervisor) network controller listens on.
const BridgeControllerPort uint32 = 9100

// BridgeController is the contract vesseld uses to ask the hypervisor
// networking layer to materialize or tear down a bridge for a network.
// vesseld itself never touches host network namespaces or bridge devices;
// every container's actual L2/L3 connectivity is the collaborator's job.
type BridgeController interface {
	CreateBridge(ctx context.Context, networkID, subnet, gateway string) error
	DeleteBridge(ctx context.Context, networkID string) error
	ListBridges(ctx context.Context) ([]string, error)
	Health(ctx context.Context) error
}

type bridgeRequest struct {
	Method    string `json:"method"`
	NetworkID string `json:"network_id,omitempty"`
	Subnet    string `json:"subnet,omitempty"`
	Gateway   string `json:"gateway,omitempty"`
}

type bridgeResponse struct {
	OK      bool     `json:"ok"`
	Error   string   `json:"error,omitempty"`
	Bridges []string `json:"bridges,omitempty"`
}

// VsockBridgeController reaches the hypervisor's network controller over a
// host-facing AF_VSOCK connection - the same transport runtime.Runtime uses
// to reach a guest, but dialed against the hypervisor's own CID rather than
// a per-container VM's.
type VsockBridgeController struct {
	cid  uint32
	port uint32
}

// NewVsockBridgeController targets the network controller listening on cid:port.
func NewVsockBridgeController(cid uint32) *VsockBridgeController {
	return &VsockBridgeController{cid: cid, port: BridgeControllerPort}
}

func (c *VsockBridgeController) call(ctx context.Context, req bridgeRequest) (*bridgeResponse, error) {
	conn, err := vsock.Dial(c.cid, c.port, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge controller: dial cid=%d port=%d: %w", c.cid, c.port, err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	enc := json.NewEncoder(conn)
	if err := enc.Encode(req); err != nil {
		return nil, fmt.Errorf("bridge controller: send %s: %w", req.Method, err)
	}

	var resp bridgeResponse
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		return nil, fmt.Errorf("bridge controller: read response to %s: %w", req.Method, err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("bridge controller: %s failed: %s", req.Method, resp.Error)
	}
	return &resp, nil
}

func (c *VsockBridgeController) CreateBridge(ctx context.Context, networkID, subnet, gateway string) error {
	_, err := c.call(ctx, bridgeRequest{Method: "CreateBridge", NetworkID: networkID, Subnet: subnet, Gateway: gateway})
	return err
}

func (c *VsockBridgeController) DeleteBridge(ctx context.Context, networkID string) error {
	_, err := c.call(ctx, bridgeRequest{Method: "DeleteBridge", NetworkID: networkID})
	return err
}

func (c *VsockBridgeController) ListBridges(ctx context.Context) ([]string, error) {
	resp, err := c.call(ctx, bridgeRequest{Method: "ListBridges"})
	if err != nil {
		return nil, err
	}
	return resp.Bridges, nil
}

func (c *VsockBridgeController) Health(ctx context.Context) error {
	_, err := c.call(ctx, bridgeRequest{Method: "Health"})
	return err
}
