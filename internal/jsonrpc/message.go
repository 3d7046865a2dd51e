package jsonrpc

import (
	"encoding/json"
	"fmt"

	"murmur/internal/services"
)

const protocolVersion = "2.0"

// Standard error codes the worker uses.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// inbound covers every message shape the worker may send. A null or missing
// id decodes to a nil pointer.
type inbound struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *RemoteError    `json:"error"`
}

// Notification is a worker-initiated message without an id.
type Notification struct {
	Method string
	Params json.RawMessage
}

// RemoteError is the error object carried by a worker response.
type RemoteError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("worker error %d: %s", e.Code, e.Message)
}

// Is lets errors.Is(err, services.ErrRemote) match worker errors.
func (e *RemoteError) Is(target error) bool {
	return target == services.ErrRemote
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return json.RawMessage("{}"), nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		if len(raw) == 0 {
			return json.RawMessage("{}"), nil
		}
		return raw, nil
	}
	return json.Marshal(params)
}
