package someip

// ReturnCode is the single trailing header byte carrying request
// outcome; requests and notifications must carry ReturnCodeOk.
type ReturnCode uint8

const (
	ReturnCodeOk                    ReturnCode = 0x00
	ReturnCodeNotOk                 ReturnCode = 0x01
	ReturnCodeUnknownService        ReturnCode = 0x02
	ReturnCodeUnknownMethod         ReturnCode = 0x03
	ReturnCodeNotReady              ReturnCode = 0x04
	ReturnCodeNotReachable          ReturnCode = 0x05
	ReturnCodeTimeout               ReturnCode = 0x06
	ReturnCodeWrongProtocolVersion  ReturnCode = 0x07
	ReturnCodeWrongInterfaceVersion ReturnCode = 0x08
	ReturnCodeMalformedMessage      ReturnCode = 0x09
	ReturnCodeWrongMessageType      ReturnCode = 0x0A
)

var returnCodeAccepted = map[ReturnCode]bool{
	ReturnCodeOk:                    true,
	ReturnCodeNotOk:                 true,
	ReturnCodeUnknownService:        true,
	ReturnCodeUnknownMethod:         true,
	ReturnCodeNotReady:              true,
	ReturnCodeNotReachable:          true,
	ReturnCodeTimeout:               true,
	ReturnCodeWrongProtocolVersion:  true,
	ReturnCodeWrongInterfaceVersion: true,
	ReturnCodeMalformedMessage:      true,
	ReturnCodeWrongMessageType:      true,
}

func (rc ReturnCode) Valid() bool {
	return returnCodeAccepted[rc]
}
