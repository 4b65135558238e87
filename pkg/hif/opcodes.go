package hif

// Group selects the chip subsystem a message addresses.
type Group uint8

const (
	GroupWiFi Group = 1
	GroupIP   Group = 2
)

func (g Group) String() string {
	switch g {
	case GroupWiFi:
		return "wifi"
	case GroupIP:
		return "ip"
	}
	return "unknown"
}

// WiFi group operations.
const (
	OpConnectOld  = 40 // connect request, legacy layout
	OpStateChange = 44 // link state notification
	OpDHCPConf    = 50 // station lease assigned
	OpConnectNew  = 59 // connect request, credential layout
	OpApEnable    = 70 // start access point
	OpApDisable   = 71 // stop access point
	OpApDHCPConf  = 72 // access point lease handed out
	OpApAssocInfo = 74 // station joined or left the access point
)

// IP group operations.
const (
	OpBind     = 65
	OpListen   = 66
	OpAccept   = 67
	OpSend     = 69
	OpRecv     = 70
	OpSendTo   = 71
	OpRecvFrom = 72
	OpClose    = 73
)

// DataFlag marks an operation as data bearing. It rides in the kick word
// only; the message header carries the bare operation.
const DataFlag = 0x80

// HeaderSize is the fixed message header length. Body offsets count from
// the end of the header.
const HeaderSize = 8
