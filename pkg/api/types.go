// Package api defines the messages exchanged between the console and a debug
// server. Every message is a JSON object sent as one websocket text frame.
package api

import "encoding/json"

// RequestType 请求类型
type RequestType string

const (
	ConnectRequest      RequestType = "connection"
	BreakpointRequest   RequestType = "breakpoint"
	WatchpointRequest   RequestType = "data-breakpoint"
	CommandRequest      RequestType = "command"
	EvaluationRequest   RequestType = "evaluation"
	SetValueRequest     RequestType = "set-value"
	DebuggerInfoRequest RequestType = "debugger-info"
)

// Request is sent by the console. Token is echoed back in the response.
type Request struct {
	Request bool            `json:"request"`
	Type    RequestType     `json:"type"`
	Token   string          `json:"token"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Action 添加或者移除
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// ConnectPayload is the handshake. An empty DBFilename tells the server not
// to (re)load a symbol table.
type ConnectPayload struct {
	DBFilename string `json:"db_filename,omitempty"`
}

// Capabilities is the payload of a successful connection response.
type Capabilities struct {
	Rewind bool `json:"rewind"`
}

type BreakpointPayload struct {
	ID        uint32 `json:"id"`
	Filename  string `json:"filename,omitempty"`
	LineNum   uint32 `json:"line_num,omitempty"`
	Condition string `json:"condition,omitempty"`
	Action    Action `json:"action"`
}

type WatchpointPayload struct {
	ID         uint32 `json:"id"`
	Expression string `json:"expression,omitempty"`
	Filename   string `json:"filename,omitempty"`
	LineNum    uint32 `json:"line_num,omitempty"`
	Action     Action `json:"action"`
}

// CommandName 执行控制命令
type CommandName string

const (
	Continue        CommandName = "continue"
	StepInto        CommandName = "step_into"
	StepOver        CommandName = "step_over"
	ReverseContinue CommandName = "reverse_continue"
	StepBack        CommandName = "step_back"
	Jump            CommandName = "jump"
)

type CommandPayload struct {
	Command CommandName `json:"command"`
	Time    uint64      `json:"time,omitempty"`
}

// Scope selects the binding set an expression or assignment is resolved in.
// A zero scope means the global, instance-qualified namespace.
type Scope struct {
	InstanceID   uint64 `json:"instance_id,omitempty"`
	BreakpointID uint64 `json:"breakpoint_id,omitempty"`
	IsContext    bool   `json:"is_context,omitempty"`
}

type EvaluationPayload struct {
	Expression string `json:"expression"`
	Scope      Scope  `json:"scope"`
}

type EvaluationResult struct {
	Result int64 `json:"result"`
}

type SetValuePayload struct {
	VarName string `json:"var_name"`
	Value   int64  `json:"value"`
	Scope   Scope  `json:"scope"`
}

// InfoCommand debugger-info请求的子命令
type InfoCommand string

const (
	InfoTime InfoCommand = "time"
)

type DebuggerInfoPayload struct {
	Command InfoCommand `json:"command"`
}

// TimeResult carries the target's logical time, answers both a time query
// and a jump command.
type TimeResult struct {
	Time uint64 `json:"time"`
}
