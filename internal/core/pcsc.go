package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/ebfe/scard"
)

// EstablishContext opens a PC/SC context through ebfe/scard.
func (DefaultContextFactory) EstablishContext() (SmartCardContext, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, mapSCardError(err)
	}
	return &scardContext{ctx: ctx}, nil
}

type scardContext struct {
	ctx *scard.Context
}

func (c *scardContext) ListReaders() ([]string, error) {
	readers, err := c.ctx.ListReaders()
	if errors.Is(err, scard.ErrNoReadersAvailable) {
		return nil, nil
	}
	if err != nil {
		return nil, mapSCardError(err)
	}
	return readers, nil
}

func (c *scardContext) Connect(reader string, shareMode uint32, protocol uint32) (SmartCard, error) {
	card, err := c.ctx.Connect(reader, scard.ShareMode(shareMode), scard.Protocol(protocol))
	if err != nil {
		return nil, mapSCardError(err)
	}
	return &scardCard{card: card}, nil
}

func (c *scardContext) GetStatusChange(states []ReaderState, timeout time.Duration) error {
	rs := make([]scard.ReaderState, len(states))
	for i, s := range states {
		rs[i] = scard.ReaderState{
			Reader:       s.Reader,
			CurrentState: scard.StateFlag(s.CurrentState),
		}
	}

	if err := c.ctx.GetStatusChange(rs, timeout); err != nil {
		return mapSCardError(err)
	}

	for i := range states {
		states[i].EventState = StateFlag(rs[i].EventState)
	}
	return nil
}

func (c *scardContext) Cancel() error {
	return mapSCardError(c.ctx.Cancel())
}

func (c *scardContext) Release() error {
	return mapSCardError(c.ctx.Release())
}

type scardCard struct {
	card *scard.Card
}

func (c *scardCard) BeginTransaction() error {
	return mapSCardError(c.card.BeginTransaction())
}

func (c *scardCard) EndTransaction(disposition uint32) error {
	return mapSCardError(c.card.EndTransaction(scard.Disposition(disposition)))
}

// Transmit sends cmd with the PCI matching the protocol negotiated on
// connect; scard picks the send and receive PCI from the active protocol.
func (c *scardCard) Transmit(cmd []byte) ([]byte, error) {
	rsp, err := c.card.Transmit(cmd)
	if err != nil {
		return nil, mapSCardError(err)
	}
	return rsp, nil
}

func (c *scardCard) ActiveProtocol() uint32 {
	return uint32(c.card.ActiveProtocol())
}

func (c *scardCard) Disconnect(disposition uint32) error {
	return mapSCardError(c.card.Disconnect(scard.Disposition(disposition)))
}

// mapSCardError attaches the package sentinels to the scard errors the
// monitor and identifier need to tell apart. The original error stays in
// the chain.
func mapSCardError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, scard.ErrCancelled):
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	case errors.Is(err, scard.ErrTimeout):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, scard.ErrNoService), errors.Is(err, scard.ErrServiceStopped):
		return fmt.Errorf("%w: %w", ErrNoService, err)
	case errors.Is(err, scard.ErrNoSmartcard), errors.Is(err, scard.ErrRemovedCard):
		return fmt.Errorf("%w: %w", ErrNoCard, err)
	}
	return err
}
