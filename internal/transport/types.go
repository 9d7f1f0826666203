package transport

import (
	"fmt"

	"github.com/srg/bleman/internal/transfer"
)

// ConnState is the link state a transport reports for a device.
type ConnState uint8

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// AdapterState is the power state of the local adapter.
type AdapterState uint8

const (
	AdapterUnknown AdapterState = iota
	AdapterOff
	AdapterOn
)

func (s AdapterState) String() string {
	switch s {
	case AdapterOff:
		return "off"
	case AdapterOn:
		return "on"
	default:
		return "unknown"
	}
}

// BondState is the pairing state of a remote device.
type BondState uint8

const (
	BondNone BondState = iota
	BondBonding
	BondBonded
)

func (s BondState) String() string {
	switch s {
	case BondNone:
		return "none"
	case BondBonding:
		return "bonding"
	case BondBonded:
		return "bonded"
	default:
		return fmt.Sprintf("bond(%d)", uint8(s))
	}
}

// PHY identifies a LE physical layer.
type PHY uint8

const (
	PHY1M    PHY = 1
	PHY2M    PHY = 2
	PHYCoded PHY = 3
)

func (p PHY) String() string {
	switch p {
	case PHY1M:
		return "1M"
	case PHY2M:
		return "2M"
	case PHYCoded:
		return "coded"
	default:
		return fmt.Sprintf("phy(%d)", uint8(p))
	}
}

// PHYOptions selects the coded PHY preference.
type PHYOptions uint8

const (
	PHYOptionsNone PHYOptions = 0
	PHYOptionsS2   PHYOptions = 1
	PHYOptionsS8   PHYOptions = 2
)

// ConnectionPriority is the requested connection parameter profile.
type ConnectionPriority uint8

const (
	PriorityBalanced ConnectionPriority = 0
	PriorityHigh     ConnectionPriority = 1
	PriorityLowPower ConnectionPriority = 2
)

func (p ConnectionPriority) String() string {
	switch p {
	case PriorityBalanced:
		return "balanced"
	case PriorityHigh:
		return "high"
	case PriorityLowPower:
		return "low_power"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}

// OpKind identifies an attribute operation.
type OpKind uint8

const (
	OpRead OpKind = iota
	OpWrite
	OpSetNotify
	OpReadRSSI
	OpRequestMTU
	OpSetPHY
	OpReadPHY
	OpRequestPriority
)

func (k OpKind) String() string {
	switch k {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpSetNotify:
		return "set_notify"
	case OpReadRSSI:
		return "read_rssi"
	case OpRequestMTU:
		return "request_mtu"
	case OpSetPHY:
		return "set_phy"
	case OpReadPHY:
		return "read_phy"
	case OpRequestPriority:
		return "request_priority"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// OpResult is the outcome of one transport operation. Only the fields
// meaningful for the Kind carry data; Err is nil on success.
type OpResult struct {
	Kind   OpKind
	Handle uint16
	Value  []byte
	RSSI   int
	MTU    int
	TxPHY  PHY
	RxPHY  PHY
	Err    error
}

// Status is an ATT protocol status code as reported by a transport.
type Status uint8

const (
	StatusSuccess                    Status = 0x00
	StatusInvalidHandle              Status = 0x01
	StatusReadNotPermitted           Status = 0x02
	StatusWriteNotPermitted          Status = 0x03
	StatusInsufficientAuthentication Status = 0x05
	StatusRequestNotSupported        Status = 0x06
	StatusInvalidOffset              Status = 0x07
	StatusUnlikelyError              Status = 0x0E
	StatusInsufficientEncryption     Status = 0x0F
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInvalidHandle:
		return "invalid handle"
	case StatusReadNotPermitted:
		return "read not permitted"
	case StatusWriteNotPermitted:
		return "write not permitted"
	case StatusInsufficientAuthentication:
		return "insufficient authentication"
	case StatusRequestNotSupported:
		return "request not supported"
	case StatusInvalidOffset:
		return "invalid offset"
	case StatusUnlikelyError:
		return "unlikely error"
	case StatusInsufficientEncryption:
		return "insufficient encryption"
	default:
		return fmt.Sprintf("att status 0x%02X", uint8(s))
	}
}

// Err maps the status to an engine error. Success maps to nil; the
// security statuses map to ErrSecurityUpgradeRequired so the queue's
// single-retry path can recognize them; invalid offset maps to
// transfer.ErrInvalidOffset.
func (s Status) Err() error {
	switch s {
	case StatusSuccess:
		return nil
	case StatusInsufficientAuthentication, StatusInsufficientEncryption:
		return &OpError{Kind: SecurityUpgradeRequired, Msg: s.String()}
	case StatusInvalidOffset:
		return fmt.Errorf("%w: %s", transfer.ErrInvalidOffset, s)
	default:
		return fmt.Errorf("attribute operation failed: %s", s)
	}
}
