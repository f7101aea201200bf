// Package rpc exposes chain and lottery state via a JSON-RPC 2.0 HTTP endpoint.
package rpc

import (
	"encoding/json"
	"errors"

	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/lottery"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object. Data carries the lottery error
// code (for example "INVALID_STATE") when the failure came from the engine.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32000
	CodeRateLimited    = -32001
	CodeNotFound       = -32004
	CodeLottery        = -32010
)

func errResponse(id any, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: msg},
	}
}

// errorResponse classifies err: engine errors keep their code in Data,
// missing records map to CodeNotFound.
func errorResponse(id any, err error) Response {
	if code := lottery.Code(err); code != "" {
		resp := errResponse(id, CodeLottery, err.Error())
		resp.Error.Data = code
		return resp
	}
	if errors.Is(err, core.ErrNotFound) || errors.Is(err, lottery.ErrNotFound) {
		return errResponse(id, CodeNotFound, err.Error())
	}
	return errResponse(id, CodeInternalError, err.Error())
}

func okResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}
