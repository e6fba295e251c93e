package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/rterr"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/types"
)

// MessageType names a request frame
type MessageType string

const (
	TypeLoadStackBundle   MessageType = "loadStackBundle"
	TypeRenderCard        MessageType = "renderCard"
	TypeEventCard         MessageType = "eventCard"
	TypeDefineCard        MessageType = "defineCard"
	TypeDefineCardRender  MessageType = "defineCardRender"
	TypeDefineCardHandler MessageType = "defineCardHandler"
	TypeDisposeSession    MessageType = "disposeSession"
	TypeHealth            MessageType = "health"
)

// Request is a client to worker frame. Only the fields the type needs are set.
type Request struct {
	ID            uint64               `json:"id"`
	Type          MessageType          `json:"type"`
	StackID       string               `json:"stackId,omitempty"`
	SessionID     string               `json:"sessionId,omitempty"`
	CardID        string               `json:"cardId,omitempty"`
	Handler       string               `json:"handler,omitempty"`
	PackageSource string               `json:"packageSource,omitempty"`
	Code          string               `json:"code,omitempty"`
	Args          interface{}          `json:"args,omitempty"`
	State         *types.StateSnapshot `json:"state,omitempty"`
}

// Response is a worker to client frame
type Response struct {
	ID     uint64          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rterr.Payload  `json:"error,omitempty"`
}

// DisposeResult is the result of a disposeSession request
type DisposeResult struct {
	Disposed bool `json:"disposed"`
}

// codec keeps integral numbers as int64 so decoded state matches what the
// engine exports
var codec = sonic.Config{
	UseInt64:         true,
	EscapeHTML:       false,
	ValidateString:   true,
	CompactMarshaler: true,
}.Froze()

// EncodeRequest serializes a request frame
func EncodeRequest(req *Request) ([]byte, error) {
	data, err := codec.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", req.Type, err)
	}
	return data, nil
}

// DecodeRequest parses a request frame
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := codec.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if req.Type == "" {
		return nil, fmt.Errorf("decode request: missing type")
	}
	return &req, nil
}

// EncodeResponse serializes a response frame
func EncodeResponse(resp *Response) ([]byte, error) {
	data, err := codec.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response %d: %w", resp.ID, err)
	}
	return data, nil
}

// DecodeResponse parses a response frame
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := codec.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// ResponseID recovers the call id from a frame that does not decode as a
// whole Response
func ResponseID(data []byte) (uint64, bool) {
	node, err := sonic.Get(data, "id")
	if err != nil {
		return 0, false
	}
	id, err := node.Int64()
	if err != nil || id <= 0 {
		return 0, false
	}
	return uint64(id), true
}

// Success builds an ok response carrying result
func Success(id uint64, result interface{}) (*Response, error) {
	data, err := codec.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &Response{ID: id, OK: true, Result: data}, nil
}

// Failure builds an error response from any error
func Failure(id uint64, err error) *Response {
	return &Response{ID: id, OK: false, Error: rterr.ToPayload(err)}
}

// decodeResult unmarshals a response result into out
func decodeResult(resp *Response, out interface{}) error {
	if len(resp.Result) == 0 {
		return rterr.New(rterr.CodeSchema, "response %d has no result", resp.ID)
	}
	if err := codec.Unmarshal(resp.Result, out); err != nil {
		return rterr.Wrap(rterr.CodeSchema, err, "response %d result malformed", resp.ID)
	}
	return nil
}
