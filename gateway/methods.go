package gateway

import (
	"context"
	"fmt"

	"github.com/tickline/tickline/content"
	"github.com/tickline/tickline/event"
	"github.com/tickline/tickline/session"
)

// attachmentDTO is the wire shape of one item in send's optional
// attachments list.
type attachmentDTO struct {
	Type      string `json:"type"` // "image", "document", "audio", "video"
	MediaType string `json:"mediaType"`
	Name      string `json:"name,omitempty"`
	Base64    string `json:"base64,omitempty"`
	URL       string `json:"url,omitempty"`
}

func (a attachmentDTO) toBlock() (content.Block, error) {
	source := content.MediaSource{Base64: a.Base64, URL: a.URL}
	switch a.Type {
	case "image":
		return content.ImageBlock{Source: source, MediaType: a.MediaType}, nil
	case "document":
		return content.DocumentBlock{Source: source, MediaType: a.MediaType, Name: a.Name}, nil
	case "audio":
		return content.AudioBlock{Source: source, MediaType: a.MediaType}, nil
	case "video":
		return content.VideoBlock{Source: source, MediaType: a.MediaType}, nil
	default:
		return nil, fmt.Errorf("unknown attachment type %q", a.Type)
	}
}

type sendParams struct {
	SessionID   string          `json:"sessionId"`
	Message     string          `json:"message"`
	Attachments []attachmentDTO `json:"attachments,omitempty"`
	// Mode selects "steer" (default: interrupt and redirect a running
	// execution) or "queue" (append and wait for the current execution to
	// finish) when the session is already running.
	Mode string `json:"mode,omitempty"`
}

func (g *Gateway) handleSend(ctx context.Context, client *Client, payload any) (any, error) {
	var p sendParams
	if err := decodeParams(payload, &p); err != nil {
		return nil, errInvalidMessage("send: " + err.Error())
	}
	if p.SessionID == "" {
		return nil, errInvalidParams("send: sessionId is required", nil)
	}
	a, _, name, ok := g.registry.Resolve(p.SessionID)
	if !ok {
		return nil, errSessionNotFound(p.SessionID)
	}

	blocks := []content.Block{content.TextBlock{Text: p.Message}}
	for _, att := range p.Attachments {
		b, err := att.toBlock()
		if err != nil {
			return nil, errInvalidParams("send: "+err.Error(), nil)
		}
		blocks = append(blocks, b)
	}
	msg := content.Message{Role: content.RoleUser, Content: blocks}

	mode := session.ModeSteer
	if p.Mode == "queue" {
		mode = session.ModeQueue
	}

	handle, err := a.Send(ctx, name, msg, mode)
	if err != nil {
		return nil, errInternal(err.Error())
	}
	return map[string]any{"messageId": handle.ExecutionID}, nil
}

type sessionIDParams struct {
	SessionID string `json:"sessionId"`
}

func (g *Gateway) handleAbort(ctx context.Context, client *Client, payload any) (any, error) {
	var p sessionIDParams
	if err := decodeParams(payload, &p); err != nil {
		return nil, errInvalidMessage("abort: " + err.Error())
	}
	a, _, name, ok := g.registry.Resolve(p.SessionID)
	if !ok {
		return nil, errSessionNotFound(p.SessionID)
	}
	eng, err := a.GetSession(ctx, name)
	if err != nil {
		return nil, errSessionNotFound(p.SessionID)
	}
	eng.Abort("client abort")
	return map[string]any{"aborted": true}, nil
}

func (g *Gateway) handleStatus(ctx context.Context, client *Client, payload any) (any, error) {
	var p struct {
		SessionID string `json:"sessionId,omitempty"`
	}
	_ = decodeParams(payload, &p)

	stats := map[string]any{
		"apps":    len(g.registry.List()),
		"clients": g.clientCount(),
	}
	if p.SessionID == "" {
		return stats, nil
	}
	a, _, name, ok := g.registry.Resolve(p.SessionID)
	if !ok {
		return nil, errSessionNotFound(p.SessionID)
	}
	eng, err := a.GetSession(ctx, name)
	if err != nil {
		return nil, errSessionNotFound(p.SessionID)
	}
	snap := eng.Snapshot()
	stats["session"] = map[string]any{
		"id":     snap.ID,
		"status": snap.Status,
		"tick":   snap.CurrentTick,
		"usage":  snap.CumulativeUsage,
	}
	return stats, nil
}

type historyParams struct {
	SessionID string `json:"sessionId"`
	Limit     int    `json:"limit,omitempty"`
	Before    int    `json:"before,omitempty"`
}

func (g *Gateway) handleHistory(ctx context.Context, client *Client, payload any) (any, error) {
	var p historyParams
	if err := decodeParams(payload, &p); err != nil {
		return nil, errInvalidMessage("history: " + err.Error())
	}
	a, _, name, ok := g.registry.Resolve(p.SessionID)
	if !ok {
		return nil, errSessionNotFound(p.SessionID)
	}
	eng, err := a.GetSession(ctx, name)
	if err != nil {
		return nil, errSessionNotFound(p.SessionID)
	}
	timeline := eng.Snapshot().Timeline

	end := len(timeline)
	if p.Before > 0 && p.Before < end {
		end = p.Before
	}
	start := 0
	if p.Limit > 0 && end-p.Limit > 0 {
		start = end - p.Limit
	}
	page := timeline[start:end]
	return map[string]any{"messages": page, "total": len(timeline)}, nil
}

func (g *Gateway) handleReset(ctx context.Context, client *Client, payload any) (any, error) {
	var p sessionIDParams
	if err := decodeParams(payload, &p); err != nil {
		return nil, errInvalidMessage("reset: " + err.Error())
	}
	a, _, name, ok := g.registry.Resolve(p.SessionID)
	if !ok {
		return nil, errSessionNotFound(p.SessionID)
	}
	if err := a.CloseSession(name); err != nil {
		return nil, errSessionNotFound(p.SessionID)
	}
	if _, err := a.CreateSession(name); err != nil {
		return nil, errInternal(err.Error())
	}
	return map[string]any{"reset": true}, nil
}

func (g *Gateway) handleClose(ctx context.Context, client *Client, payload any) (any, error) {
	var p sessionIDParams
	if err := decodeParams(payload, &p); err != nil {
		return nil, errInvalidMessage("close: " + err.Error())
	}
	a, _, name, ok := g.registry.Resolve(p.SessionID)
	if !ok {
		return nil, errSessionNotFound(p.SessionID)
	}
	if err := a.Hibernate(ctx, name); err != nil {
		return nil, errInternal(err.Error())
	}
	client.removeSubscription(p.SessionID)
	return map[string]any{"closed": true}, nil
}

func (g *Gateway) handleApps(ctx context.Context, client *Client, payload any) (any, error) {
	return map[string]any{"apps": g.registry.List()}, nil
}

func (g *Gateway) handleSessions(ctx context.Context, client *Client, payload any) (any, error) {
	return map[string]any{"sessions": g.registry.AllSessions()}, nil
}

func (g *Gateway) handleSubscribe(ctx context.Context, client *Client, payload any) (any, error) {
	var p sessionIDParams
	if err := decodeParams(payload, &p); err != nil {
		return nil, errInvalidMessage("subscribe: " + err.Error())
	}
	a, _, name, ok := g.registry.Resolve(p.SessionID)
	if !ok {
		return nil, errSessionNotFound(p.SessionID)
	}
	eng, err := a.GetOrCreateSession(ctx, name)
	if err != nil {
		return nil, errInternal(err.Error())
	}

	wireKey := p.SessionID
	unsubscribe := eng.Events().OnReplay(event.TypeWildcard, func(e event.StreamEvent) {
		client.pushEvent(wireKey, e)
	})
	client.addSubscription(wireKey, unsubscribe)
	return map[string]any{"subscribed": true}, nil
}

func (g *Gateway) handleUnsubscribe(ctx context.Context, client *Client, payload any) (any, error) {
	var p sessionIDParams
	if err := decodeParams(payload, &p); err != nil {
		return nil, errInvalidMessage("unsubscribe: " + err.Error())
	}
	client.removeSubscription(p.SessionID)
	return map[string]any{"unsubscribed": true}, nil
}
