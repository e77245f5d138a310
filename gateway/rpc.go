package gateway

import "encoding/json"

// rpcResponse is the wire envelope for every RPC reply, per spec.md §4.10:
// "{ok:false, error:{code, message, details?}}" on failure, {ok:true,
// result} on success.
type rpcResponse struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

func okResponse(result any) rpcResponse {
	return rpcResponse{OK: true, Result: result}
}

func errResponse(err error) rpcResponse {
	if gerr, ok := err.(*Error); ok {
		return rpcResponse{OK: false, Error: gerr}
	}
	return rpcResponse{OK: false, Error: errInternal(err.Error())}
}

// decodeParams re-marshals a loosely-typed payload (as delivered by a
// transport's JSON decoding, typically map[string]any) into dst.
func decodeParams(payload any, dst any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// marshalPayload re-encodes a loosely-typed payload as json.RawMessage, for
// handing to a custom method's schema validator.
func marshalPayload(payload any) (json.RawMessage, error) {
	return json.Marshal(payload)
}

const (
	methodSend        = "send"
	methodAbort       = "abort"
	methodStatus      = "status"
	methodHistory     = "history"
	methodReset       = "reset"
	methodClose       = "close"
	methodApps        = "apps"
	methodSessions    = "sessions"
	methodSubscribe   = "subscribe"
	methodUnsubscribe = "unsubscribe"
)
