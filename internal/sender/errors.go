package sender

import "errors"

var (
	// ErrUnknownVariant is returned by New for an unrecognized protocol variant.
	ErrUnknownVariant = errors.New("sender: unknown protocol variant")
	// ErrConfigInvalid mirrors config.ErrConfigInvalid for sender-local validation.
	ErrConfigInvalid = errors.New("sender: config invalid")
	// ErrSetupFailed covers socket creation/bind failures at Setup time.
	ErrSetupFailed = errors.New("sender: setup failed")
)

// Dependencies carries the shared collaborators a sender variant may
// need at construction time (the SSRC registry). Kept separate from
// SharedContext to avoid an import cycle between audioctx and sender.
type Dependencies struct {
	ReserveSSRC func(uint32) bool
	ReleaseSSRC func(uint32)
}
