//go:build !linux && !darwin

package service

import "github.com/pcsc-tools/cardid-agent/internal/config"

type unsupportedService struct{}

// New returns a manager whose operations report ErrUnsupported.
func New(*config.Config) Service {
	return unsupportedService{}
}

func (unsupportedService) Install() error          { return ErrUnsupported }
func (unsupportedService) Uninstall() error        { return ErrUnsupported }
func (unsupportedService) IsInstalled() bool       { return false }
func (unsupportedService) Status() (string, error) { return "unsupported", nil }
