package ratchet

import (
	"github.com/pkg/errors"

	"parley/internal/domain"
)

// Config holds the tunables of a ratchet session.
type Config struct {
	// ChainKeyUpdateFrequency is how many message keys share one chain key
	// epoch. 1 advances the chain on every message.
	ChainKeyUpdateFrequency int

	MessageKeyLength int
	ChainKeyLength   int
	RootKeyLength    int

	// UseTripleRatchet mixes a third chain into every message key.
	UseTripleRatchet bool

	// MaxSkippedMessageKeys bounds the skipped-key cache.
	MaxSkippedMessageKeys int
	// MaxChainGap bounds how far ahead of the receive counter a header may
	// point.
	MaxChainGap int
}

// DefaultConfig returns the standard Double Ratchet settings.
func DefaultConfig() Config {
	return Config{
		ChainKeyUpdateFrequency: 1,
		MessageKeyLength:        32,
		ChainKeyLength:          32,
		RootKeyLength:           32,
		UseTripleRatchet:        false,
		MaxSkippedMessageKeys:   50,
		MaxChainGap:             1000,
	}
}

// Validate reports unusable settings as domain.ErrKeyDerivation.
func (c Config) Validate() error {
	switch {
	case c.ChainKeyUpdateFrequency < 1:
		return errors.Wrapf(domain.ErrKeyDerivation, "chain key update frequency %d", c.ChainKeyUpdateFrequency)
	case c.MessageKeyLength <= 0, c.ChainKeyLength <= 0, c.RootKeyLength <= 0:
		return errors.Wrapf(domain.ErrKeyDerivation, "key lengths %d/%d/%d",
			c.MessageKeyLength, c.ChainKeyLength, c.RootKeyLength)
	case c.MaxSkippedMessageKeys < 0:
		return errors.Errorf("max skipped message keys %d", c.MaxSkippedMessageKeys)
	case c.MaxChainGap < 0:
		return errors.Errorf("max chain gap %d", c.MaxChainGap)
	}
	return nil
}
