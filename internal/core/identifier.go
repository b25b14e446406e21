package core

import (
	"fmt"
	"strings"

	"github.com/pcsc-tools/cardid-agent/internal/apdu"
	"github.com/pcsc-tools/cardid-agent/internal/logging"
)

// ReceiveBufferSize is the size of the response buffer, status word included.
const ReceiveBufferSize = 256

// CardID is the raw identifier returned by the reader. An empty CardID
// means no identifier was obtained.
type CardID []byte

// String renders the identifier as uppercase hyphen-separated hex, e.g. "01-02-AB".
func (id CardID) String() string {
	if len(id) == 0 {
		return ""
	}
	return strings.ReplaceAll(fmt.Sprintf("% X", []byte(id)), " ", "-")
}

// Empty reports whether no identifier was obtained.
func (id CardID) Empty() bool {
	return len(id) == 0
}

// Identifier reads card identifiers over a shared PC/SC context.
type Identifier struct {
	ctx SmartCardContext
}

// NewIdentifier creates an Identifier that connects through ctx.
func NewIdentifier(ctx SmartCardContext) *Identifier {
	return &Identifier{ctx: ctx}
}

// ReadID performs one identification attempt on readerName.
//
// A failed connect yields an empty CardID and no error. Any failure after
// the connection is open is returned as *TransmitFailure. The transaction
// and the connection are released on every path.
func (i *Identifier) ReadID(readerName string) (CardID, error) {
	card, err := i.ctx.Connect(readerName, ShareShared, ProtocolAny)
	if err != nil {
		cf := &ConnectFailure{Reader: readerName, Err: err}
		logging.Debug(logging.CatCard, "No card to read", map[string]any{
			"reader": readerName,
			"error":  cf.Error(),
		})
		return nil, nil
	}
	defer func() {
		if err := card.Disconnect(LeaveCard); err != nil {
			logging.Warn(logging.CatCard, "Failed to disconnect card", map[string]any{
				"reader": readerName,
				"error":  err.Error(),
			})
		}
	}()

	return i.exchange(readerName, card)
}

func (i *Identifier) exchange(readerName string, card SmartCard) (CardID, error) {
	if err := card.BeginTransaction(); err != nil {
		return nil, &TransmitFailure{Reader: readerName, Op: "begin transaction", Err: err}
	}
	defer func() {
		if err := card.EndTransaction(LeaveCard); err != nil {
			logging.Warn(logging.CatCard, "Failed to end transaction", map[string]any{
				"reader": readerName,
				"error":  err.Error(),
			})
		}
	}()

	cmd := apdu.GetData()
	raw, err := cmd.Bytes()
	if err != nil {
		return nil, &TransmitFailure{Reader: readerName, Op: "encode command", Err: err}
	}

	rsp, err := card.Transmit(raw)
	if err != nil {
		return nil, &TransmitFailure{Reader: readerName, Op: "transmit", Err: err}
	}
	if len(rsp) > ReceiveBufferSize {
		return nil, &TransmitFailure{
			Reader: readerName,
			Op:     "transmit",
			Err:    fmt.Errorf("%w: %d > %d bytes", ErrResponseTooLarge, len(rsp), ReceiveBufferSize),
		}
	}

	resp, err := apdu.ParseResponse(rsp)
	if err != nil {
		return nil, &TransmitFailure{Reader: readerName, Op: "parse response", Err: err}
	}

	logging.Debug(logging.CatCard, "GET DATA response", map[string]any{
		"reader":   readerName,
		"command":  cmd.String(),
		"protocol": card.ActiveProtocol(),
		"status":   fmt.Sprintf("%04X", resp.StatusWord()),
		"length":   len(resp.Data),
	})

	if !resp.HasData() {
		fields := map[string]any{
			"reader": readerName,
			"status": fmt.Sprintf("%04X", resp.StatusWord()),
		}
		if err := resp.Err(); err != nil {
			fields["error"] = err.Error()
		}
		logging.Info(logging.CatCard, "Card did not return an identifier", fields)
		return nil, nil
	}

	return CardID(append([]byte(nil), resp.Data...)), nil
}
