package core

import "time"

// Share modes, protocols and dispositions use the PC/SC numeric values so
// the scard adapter can convert them directly.
const (
	ShareExclusive uint32 = 0x1
	ShareShared    uint32 = 0x2

	ProtocolT0  uint32 = 0x1
	ProtocolT1  uint32 = 0x2
	ProtocolAny uint32 = ProtocolT0 | ProtocolT1

	LeaveCard   uint32 = 0x0
	ResetCard   uint32 = 0x1
	UnpowerCard uint32 = 0x2
)

// SmartCardContext represents a PC/SC context for listing readers,
// connecting to cards and waiting for reader state changes.
type SmartCardContext interface {
	ListReaders() ([]string, error)
	Connect(reader string, shareMode uint32, protocol uint32) (SmartCard, error)
	// GetStatusChange blocks until one of the readers leaves its
	// CurrentState or the timeout expires. A negative timeout waits forever.
	GetStatusChange(states []ReaderState, timeout time.Duration) error
	// Cancel aborts a blocking GetStatusChange on this context.
	Cancel() error
	Release() error
}

// SmartCard represents a connected smart card for transmitting commands
type SmartCard interface {
	BeginTransaction() error
	EndTransaction(disposition uint32) error
	Transmit(cmd []byte) ([]byte, error)
	ActiveProtocol() uint32
	Disconnect(disposition uint32) error
}

// ReaderState is the in/out record passed to GetStatusChange.
type ReaderState struct {
	Reader       string
	CurrentState StateFlag
	EventState   StateFlag
}

// ContextFactory creates SmartCardContext instances
// This allows for dependency injection and mocking in tests
type ContextFactory interface {
	EstablishContext() (SmartCardContext, error)
}

// DefaultContextFactory is the production factory that uses real PC/SC
type DefaultContextFactory struct{}

// IDReader performs one identification attempt against a reader.
type IDReader interface {
	ReadID(readerName string) (CardID, error)
}
