package api

import "encoding/json"

// MessageType 服务端消息类型
type MessageType string

const (
	// GenericMessage is the response to exactly one request.
	GenericMessage MessageType = "generic"
	// BreakpointEvent reports a stop at a breakpoint or after a step.
	BreakpointEvent MessageType = "breakpoint"
	// WatchpointEvent reports a watched expression changing value.
	WatchpointEvent MessageType = "watchpoint"
	// TerminateEvent reports that the program ran to completion.
	TerminateEvent MessageType = "terminate"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Message is anything sent by the server. Responses carry the token of the
// request they answer, events carry none.
type Message struct {
	Request bool            `json:"request"`
	Type    MessageType     `json:"type"`
	Status  Status          `json:"status,omitempty"`
	Token   string          `json:"token,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the payload of a rejected request.
type ErrorPayload struct {
	Reason string `json:"reason"`
}

// Frame is the state of one instance at the stop location.
type Frame struct {
	InstanceID   uint64           `json:"instance_id"`
	InstanceName string           `json:"instance_name"`
	BreakpointID uint64           `json:"breakpoint_id"`
	Locals       map[string]int64 `json:"local,omitempty"`
	Generators   map[string]int64 `json:"generator,omitempty"`
}

// StopPayload is the payload of breakpoint and watchpoint events. ID is the
// console id of the triggering breakpoint or watchpoint, 0 for a step.
type StopPayload struct {
	ID         uint32  `json:"id,omitempty"`
	Filename   string  `json:"filename"`
	LineNum    uint32  `json:"line_num"`
	Time       uint64  `json:"time"`
	Expression string  `json:"expression,omitempty"`
	Value      int64   `json:"value,omitempty"`
	Instances  []Frame `json:"instances,omitempty"`
}

type TerminatePayload struct {
	Time uint64 `json:"time"`
}
