// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"

	"github.com/virtualmcp/vmcpd/pkg/logger"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

// The adapter terminates JSON-RPC itself rather than registering handlers
// on the SDK's dispatcher: the error contract pins unknown tools to method
// not found and requires a structured data payload {kind, detail, server}
// on every error, neither of which the SDK dispatch can express. The SDK
// remains the source of result payload types.

// rpcRequest is one inbound JSON-RPC request or notification.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// isNotification reports whether the request expects no response.
func (r *rpcRequest) isNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// rpcError is the JSON-RPC error object.
type rpcError struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Data    *rpcErrorData `json:"data,omitempty"`
}

// rpcErrorData is the structured data attached to every domain error.
type rpcErrorData struct {
	Kind             string `json:"kind"`
	Detail           string `json:"detail,omitempty"`
	Server           string `json:"server,omitempty"`
	AuthorizationURL string `json:"authorization_url,omitempty"`
}

// rpcResponse is one outbound JSON-RPC response envelope.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// errorToRPC maps a domain error onto the JSON-RPC error object. Errors
// without a classification surface as internal errors with their message
// as detail.
func errorToRPC(err error) *rpcError {
	e, ok := vmcp.AsError(err)
	if !ok {
		return &rpcError{
			Code:    vmcp.CodeInternalError,
			Message: "internal error",
			Data: &rpcErrorData{
				Kind:   string(vmcp.KindInternal),
				Detail: err.Error(),
			},
		}
	}
	return &rpcError{
		Code:    e.Kind.JSONRPCCode(),
		Message: string(e.Kind),
		Data: &rpcErrorData{
			Kind:             string(e.Kind),
			Detail:           e.Detail,
			Server:           e.Server,
			AuthorizationURL: e.AuthorizationURL,
		},
	}
}

// writeResult writes one success envelope. Marshal failures downgrade to
// an internal error envelope so the client always sees exactly one
// response.
func writeResult(w http.ResponseWriter, id json.RawMessage, result any) {
	writeEnvelope(w, &rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

// writeError writes one error envelope.
func writeError(w http.ResponseWriter, id json.RawMessage, rpcErr *rpcError) {
	writeEnvelope(w, &rpcResponse{JSONRPC: "2.0", ID: id, Error: rpcErr})
}

func writeEnvelope(w http.ResponseWriter, resp *rpcResponse) {
	if resp.ID == nil {
		resp.ID = json.RawMessage("null")
	}
	body, err := json.Marshal(resp)
	if err != nil {
		logger.Errorf("Failed to marshal JSON-RPC response: %v", err)
		resp = &rpcResponse{
			JSONRPC: "2.0",
			ID:      resp.ID,
			Error: &rpcError{
				Code:    vmcp.CodeInternalError,
				Message: "internal error",
				Data:    &rpcErrorData{Kind: string(vmcp.KindInternal), Detail: "response marshaling failed"},
			},
		}
		body, _ = json.Marshal(resp)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
