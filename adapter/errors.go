package adapter

import "score-render/message"

// Failure categories surfaced to callers. Each converts to the message.Fault of
// the same name at the dispatcher boundary.
var (
	ErrUnsupportedOperation = message.NewKind(message.FaultUnsupported, "unsupported operation")
	ErrBadArguments         = message.NewKind(message.FaultBadArgs, "bad arguments")
	ErrInvocation           = message.NewKind(message.FaultInvocation, "invocation failed")
	ErrNotReady             = message.NewKind(message.FaultNotReady, "toolkit not ready")
	ErrSealed               = message.NewKind(message.FaultInvocation, "registry is sealed")
)
