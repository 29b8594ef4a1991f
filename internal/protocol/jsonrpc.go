package protocol

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 reserved error codes, plus the single domain code. Domain
// errors ride in the error's data field as a DomainError.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeDomainError    = -32000
)

// Request is a JSON-RPC 2.0 request. Params is the full league message:
// envelope fields plus the method-specific body, one flat object.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// RPCError is the JSON-RPC error member.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// DomainErr decodes the domain error carried in the data field, if any.
func (e *RPCError) DomainErr() *DomainError {
	if e.Code != CodeDomainError || len(e.Data) == 0 {
		return nil
	}
	var de DomainError
	if err := json.Unmarshal(e.Data, &de); err != nil {
		return nil
	}
	if de.ErrorCode == "" {
		return nil
	}
	return &de
}

// NewRPCError builds a plain protocol-level error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

// NewDomainRPCError wraps a DomainError into the -32000 slot.
func NewDomainRPCError(de *DomainError) *RPCError {
	data, _ := json.Marshal(de)
	return &RPCError{Code: CodeDomainError, Message: de.ErrorDescription, Data: data}
}

// NewRequest assembles a request with the given numeric id.
func NewRequest(id int64, method string, params any) (*Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}
	idRaw, _ := json.Marshal(id)
	return &Request{JSONRPC: "2.0", Method: method, Params: raw, ID: idRaw}, nil
}

// Valid reports whether the request is a well-formed JSON-RPC 2.0 call.
func (r *Request) Valid() bool {
	return r.JSONRPC == "2.0" && r.Method != ""
}
