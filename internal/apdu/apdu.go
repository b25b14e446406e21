// Package apdu encodes the short command APDUs sent to PC/SC readers and
// decodes their responses.
package apdu

import (
	"errors"
	"fmt"

	iso "cunicu.li/go-iso7816"
)

// ClaProprietary is the class byte PC/SC readers reserve for their own
// pseudo-APDUs (PC/SC part 3, section 3.2.2.1).
const ClaProprietary byte = 0xFF

// MaxResponseData is the largest payload a short Le can request.
const MaxResponseData = 256

// ErrShortResponse is returned when a response has no status trailer.
var ErrShortResponse = errors.New("apdu: response shorter than status word")

// Command is an immutable short command APDU without a data field
// (ISO 7816-4 case 2).
type Command struct {
	Cla byte
	Ins iso.Instruction
	P1  byte
	P2  byte
	// Le is the expected response length. 0 means "unknown" and is encoded
	// as 0x00, which asks the card for up to 256 bytes.
	Le int
}

// GetData returns the reader-level GET DATA command that asks the reader
// for the identifier of the card in its field: FF CA 00 00 00.
func GetData() Command {
	return Command{
		Cla: ClaProprietary,
		Ins: iso.InsGetData,
		P1:  0x00,
		P2:  0x00,
		Le:  0,
	}
}

// Bytes encodes the command as CLA INS P1 P2 Le.
func (c Command) Bytes() ([]byte, error) {
	if c.Le < 0 || c.Le > MaxResponseData {
		return nil, fmt.Errorf("apdu: Le %d out of range 0..%d", c.Le, MaxResponseData)
	}
	// Le of 256 is encoded as 0x00, same as "unknown".
	return []byte{c.Cla, byte(c.Ins), c.P1, c.P2, byte(c.Le)}, nil
}

func (c Command) String() string {
	b, err := c.Bytes()
	if err != nil {
		return fmt.Sprintf("invalid command (%v)", err)
	}
	return fmt.Sprintf("% X", b)
}

// Response is a decoded response APDU.
type Response struct {
	Data []byte
	SW1  byte
	SW2  byte
}

// ParseResponse splits raw into payload and status word. The payload aliases raw.
func ParseResponse(raw []byte) (Response, error) {
	if len(raw) < 2 {
		return Response{}, fmt.Errorf("%w: got %d bytes", ErrShortResponse, len(raw))
	}
	n := len(raw) - 2
	return Response{
		Data: raw[:n],
		SW1:  raw[n],
		SW2:  raw[n+1],
	}, nil
}

// StatusWord returns SW1SW2 as a single value, e.g. 0x9000.
func (r Response) StatusWord() uint16 {
	return uint16(r.SW1)<<8 | uint16(r.SW2)
}

// Success reports a normal completion: 90 00, or 61 xx (more data waiting).
func (r Response) Success() bool {
	return (r.SW1 == 0x90 && r.SW2 == 0x00) || r.SW1 == 0x61
}

// HasData reports whether the status word says the command completed and
// the response carries a payload. A payload returned next to an error
// status does not count.
func (r Response) HasData() bool {
	return r.Success() && len(r.Data) > 0
}

// Err returns the status word as an iso.Code error, or nil on success.
func (r Response) Err() error {
	if r.Success() {
		return nil
	}
	return iso.Code{r.SW1, r.SW2}
}
