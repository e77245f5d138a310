package registry

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client talks to a remote registry service's hand-written gRPC methods.
// It invokes them by fully-qualified method name rather than through a
// protoc-generated stub, mirroring the request/response shape serviceDesc
// dispatches on the server side.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an already-dialed *grpc.ClientConn.
func NewClient(conn *grpc.ClientConn) *Client { return &Client{conn: conn} }

func (c *Client) call(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("registry client: encode request: %w", err)
	}
	out := new(structpb.Struct)
	fullMethod := fmt.Sprintf("/%s/%s", serviceDesc.ServiceName, method)
	if err := c.conn.Invoke(ctx, fullMethod, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Register announces an App instance to the registry.
func (c *Client) Register(ctx context.Context, d Descriptor) error {
	caps := make([]any, 0, len(d.Capabilities))
	for _, c := range d.Capabilities {
		caps = append(caps, c)
	}
	_, err := c.call(ctx, "Register", map[string]any{
		"app_id": d.AppID, "name": d.Name, "address": d.Address, "capabilities": caps,
	})
	return err
}

// Unregister removes appID from the registry.
func (c *Client) Unregister(ctx context.Context, appID string) error {
	_, err := c.call(ctx, "Unregister", map[string]any{"app_id": appID})
	return err
}

// Lookup resolves appID to its Descriptor and current health.
func (c *Client) Lookup(ctx context.Context, appID string) (Descriptor, bool, error) {
	out, err := c.call(ctx, "Lookup", map[string]any{"app_id": appID})
	if err != nil {
		return Descriptor{}, false, err
	}
	return descriptorFromStruct(out), boolField(out.AsMap(), "healthy"), nil
}

// List returns every registered App known to the remote registry.
func (c *Client) List(ctx context.Context) ([]Descriptor, error) {
	out, err := c.call(ctx, "List", nil)
	if err != nil {
		return nil, err
	}
	apps, _ := out.AsMap()["apps"].([]any)
	ds := make([]Descriptor, 0, len(apps))
	for _, a := range apps {
		m, ok := a.(map[string]any)
		if !ok {
			continue
		}
		ds = append(ds, descriptorFromMap(m))
	}
	return ds, nil
}

// Heartbeat reports liveness for appID to the remote registry.
func (c *Client) Heartbeat(ctx context.Context, appID string) error {
	_, err := c.call(ctx, "Heartbeat", map[string]any{"app_id": appID})
	return err
}

func descriptorFromStruct(s *structpb.Struct) Descriptor { return descriptorFromMap(s.AsMap()) }

func descriptorFromMap(m map[string]any) Descriptor {
	d := Descriptor{AppID: stringField(m, "app_id"), Name: stringField(m, "name"), Address: stringField(m, "address")}
	if caps, ok := m["capabilities"].([]any); ok {
		for _, c := range caps {
			if cs, ok := c.(string); ok {
				d.Capabilities = append(d.Capabilities, cs)
			}
		}
	}
	return d
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}
