package someip

import "errors"

// Sentinel errors surfaced by message (de)serialization and validation.
var (
	ErrMalformedMessage      = errors.New("someip: malformed message")
	ErrWrongProtocolVersion  = errors.New("someip: wrong protocol version")
	ErrWrongInterfaceVersion = errors.New("someip: wrong interface version")
	ErrWrongMessageType      = errors.New("someip: wrong message type")
	ErrWrongReturnCode       = errors.New("someip: wrong return code")
	ErrUnknownService        = errors.New("someip: unknown service")
	ErrUnknownMethod         = errors.New("someip: unknown method")
	ErrMessageTooLarge       = errors.New("someip: message exceeds maximum size")
	ErrBufferOverflow        = errors.New("someip: buffer overflow")
	ErrInsufficientData      = errors.New("someip: insufficient data")
)

// returnCodeByError maps a validation failure to the Return Code it is
// surfaced as on the wire, the same shape as a typed abort-code-to-
// error-code table.
var returnCodeByError = map[error]ReturnCode{
	ErrMalformedMessage:      ReturnCodeMalformedMessage,
	ErrWrongProtocolVersion:  ReturnCodeWrongProtocolVersion,
	ErrWrongInterfaceVersion: ReturnCodeWrongInterfaceVersion,
	ErrWrongMessageType:      ReturnCodeWrongMessageType,
	ErrUnknownService:        ReturnCodeUnknownService,
	ErrUnknownMethod:         ReturnCodeUnknownMethod,
}

// ReturnCodeFor resolves the Return Code for a validation error, falling
// back to E_NOT_OK when the error carries no specific mapping.
func ReturnCodeFor(err error) ReturnCode {
	if rc, ok := returnCodeByError[err]; ok {
		return rc
	}
	return ReturnCodeNotOk
}
