package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Worker method names.
const (
	MethodSetNotificationInfo    = "setNotificationInfo"
	MethodSetAutoStartOnBootMode = "setAutoStartOnBootMode"
	MethodSetForegroundMode      = "setForegroundMode"
	MethodIsForegroundMode       = "isForegroundMode"
	MethodStopService            = "stopService"
	MethodSendData               = "sendData"

	// MethodReceiveData is sent from the supervisor to the worker.
	MethodReceiveData = "onReceiveData"
)

// ErrorCodeSendData is the result error code for a failed sendData call.
const ErrorCodeSendData = "send-data-failure"

// WorkerCall is one decoded worker-to-supervisor method call.
// The set of implementations is closed; dispatch switches over all of them.
type WorkerCall interface {
	Method() string
	workerCall()
}

// SetNotificationInfoCall updates the foreground notification text.
type SetNotificationInfoCall struct {
	Title   string
	Content string
	// HasTitle is false when the worker omitted the title argument.
	HasTitle bool
}

// SetAutoStartOnBootModeCall persists the auto-start flag.
type SetAutoStartOnBootModeCall struct{ Value bool }

// SetForegroundModeCall toggles the foreground presentation.
type SetForegroundModeCall struct{ Value bool }

// IsForegroundModeCall reads the foreground flag.
type IsForegroundModeCall struct{}

// StopServiceCall requests a deliberate stop.
type StopServiceCall struct{}

// SendDataCall broadcasts Payload to every attached client.
type SendDataCall struct{ Payload json.RawMessage }

// UnknownCall carries a method name the supervisor does not implement.
type UnknownCall struct{ Name string }

func (SetNotificationInfoCall) Method() string    { return MethodSetNotificationInfo }
func (SetAutoStartOnBootModeCall) Method() string { return MethodSetAutoStartOnBootMode }
func (SetForegroundModeCall) Method() string      { return MethodSetForegroundMode }
func (IsForegroundModeCall) Method() string       { return MethodIsForegroundMode }
func (StopServiceCall) Method() string            { return MethodStopService }
func (SendDataCall) Method() string               { return MethodSendData }
func (c UnknownCall) Method() string              { return c.Name }

func (SetNotificationInfoCall) workerCall()    {}
func (SetAutoStartOnBootModeCall) workerCall() {}
func (SetForegroundModeCall) workerCall()      {}
func (IsForegroundModeCall) workerCall()       {}
func (StopServiceCall) workerCall()            {}
func (SendDataCall) workerCall()               {}
func (UnknownCall) workerCall()                {}

// DecodeWorkerCall turns a raw method name and JSON arguments into a typed call.
// Method names match case-insensitively. Malformed arguments return an error.
func DecodeWorkerCall(method string, args json.RawMessage) (WorkerCall, error) {
	switch {
	case strings.EqualFold(method, MethodSetNotificationInfo):
		var a struct {
			Title   *string `json:"title"`
			Content string  `json:"content"`
		}
		if err := decodeArgs(args, &a); err != nil {
			return nil, fmt.Errorf("%s: %w", MethodSetNotificationInfo, err)
		}
		call := SetNotificationInfoCall{Content: a.Content}
		if a.Title != nil {
			call.Title = *a.Title
			call.HasTitle = true
		}
		return call, nil

	case strings.EqualFold(method, MethodSetAutoStartOnBootMode):
		v, err := decodeValue(args)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", MethodSetAutoStartOnBootMode, err)
		}
		return SetAutoStartOnBootModeCall{Value: v}, nil

	case strings.EqualFold(method, MethodSetForegroundMode):
		v, err := decodeValue(args)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", MethodSetForegroundMode, err)
		}
		return SetForegroundModeCall{Value: v}, nil

	case strings.EqualFold(method, MethodIsForegroundMode):
		return IsForegroundModeCall{}, nil

	case strings.EqualFold(method, MethodStopService):
		return StopServiceCall{}, nil

	case strings.EqualFold(method, MethodSendData):
		return SendDataCall{Payload: args}, nil

	default:
		return UnknownCall{Name: method}, nil
	}
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return fmt.Errorf("missing arguments")
	}
	return json.Unmarshal(args, v)
}

func decodeValue(args json.RawMessage) (bool, error) {
	var a struct {
		Value *bool `json:"value"`
	}
	if err := decodeArgs(args, &a); err != nil {
		return false, err
	}
	if a.Value == nil {
		return false, fmt.Errorf("missing \"value\"")
	}
	return *a.Value, nil
}

// ResultStatus discriminates method call results.
type ResultStatus string

const (
	ResultSuccess        ResultStatus = "success"
	ResultError          ResultStatus = "error"
	ResultNotImplemented ResultStatus = "notImplemented"
)

// Result is the reply to a worker method call.
type Result struct {
	Status  ResultStatus `json:"status"`
	Value   any          `json:"value"`
	Code    string       `json:"code,omitempty"`
	Message string       `json:"message,omitempty"`
}

// Success builds a success result.
func Success(v any) Result { return Result{Status: ResultSuccess, Value: v} }

// Failure builds an error result.
func Failure(code, message string) Result {
	return Result{Status: ResultError, Code: code, Message: message}
}

// NotImplemented builds a not-implemented result.
func NotImplemented() Result { return Result{Status: ResultNotImplemented} }

// Err converts a non-success result into an error, or nil on success.
func (r Result) Err() error {
	switch r.Status {
	case ResultSuccess:
		return nil
	case ResultNotImplemented:
		return fmt.Errorf("method not implemented")
	default:
		return fmt.Errorf("%s: %s", r.Code, r.Message)
	}
}
