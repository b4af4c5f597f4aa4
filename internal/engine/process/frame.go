// Package process runs a worker as a child process speaking NDJSON over stdio.
//
// The worker is started with the resume token as its only argument and
// BGSVC_FOREGROUND set to "1" or "0". It writes call frames to stdout and
// reads result and invoke frames from stdin. Anything written to stderr is
// logged line by line.
package process

import (
	"encoding/json"
	"fmt"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

// Frame types.
const (
	FrameCall   = "call"
	FrameResult = "result"
	FrameInvoke = "invoke"
)

// Mode change methods delivered as invoke frames.
const (
	MethodForeground = "foreground"
	MethodBackground = "background"
)

// EnvForeground tells the worker which mode it starts in.
const EnvForeground = "BGSVC_FOREGROUND"

// Frame is one line of the stdio protocol.
type Frame struct {
	Type    string              `json:"type"`
	ID      uint64              `json:"id,omitempty"`
	Method  string              `json:"method,omitempty"`
	Args    json.RawMessage     `json:"args,omitempty"`
	Status  domain.ResultStatus `json:"status,omitempty"`
	Value   json.RawMessage     `json:"value,omitempty"`
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
}

// ResultFrame encodes res as the reply to call id.
func ResultFrame(id uint64, res domain.Result) (Frame, error) {
	f := Frame{
		Type:    FrameResult,
		ID:      id,
		Status:  res.Status,
		Code:    res.Code,
		Message: res.Message,
	}
	if res.Status == domain.ResultSuccess {
		raw, err := json.Marshal(res.Value)
		if err != nil {
			return Frame{}, fmt.Errorf("failed to encode result value: %w", err)
		}
		f.Value = raw
	}
	return f, nil
}

// Result decodes a result frame back into a domain.Result. The value is left
// as raw JSON.
func (f Frame) Result() domain.Result {
	res := domain.Result{Status: f.Status, Code: f.Code, Message: f.Message}
	if len(f.Value) > 0 {
		res.Value = f.Value
	}
	return res
}
