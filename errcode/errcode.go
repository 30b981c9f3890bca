// Package errcode defines the stable result codes carried in OK/CODE reply
// fields across the wire protocol.
package errcode

// Code is a stable result code. Zero always means success.
type Code int32

const (
	OK Code = 0

	Unauthorized        Code = 100
	AuthenticationFailed Code = 101
	PermissionDenied    Code = 102
	DuplicateWireID     Code = 103

	InvalidChanFieldType      Code = 200
	InvalidValueFieldType     Code = 201
	InvalidNonceFieldType     Code = 202
	InvalidHandshakeFieldType Code = 203

	NoConsumers    Code = 300
	WireNotExist   Code = 301
	HandlerTimeout Code = 302
	Timeout        Code = 303
	RefuseReceive  Code = 304

	TargetUnreachable Code = 400

	BrokenPipe Code = 500

	HandlerPanic Code = 600
)

var names = map[Code]string{
	OK:                        "OK",
	Unauthorized:              "Unauthorized",
	AuthenticationFailed:      "AuthenticationFailed",
	PermissionDenied:          "PermissionDenied",
	DuplicateWireID:           "DuplicateWireId",
	InvalidChanFieldType:      "InvalidChanFieldType",
	InvalidValueFieldType:     "InvalidValueFieldType",
	InvalidNonceFieldType:     "InvalidNonceFieldType",
	InvalidHandshakeFieldType: "InvalidHandshakeFieldType",
	NoConsumers:               "NoConsumers",
	WireNotExist:              "WireNotExist",
	HandlerTimeout:            "HandlerTimeout",
	Timeout:                   "Timeout",
	RefuseReceive:             "RefuseReceiveMessage",
	TargetUnreachable:         "TargetUnreachable",
	BrokenPipe:                "BrokenPipe",
	HandlerPanic:              "HandlerPanic",
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "Unknown"
}
