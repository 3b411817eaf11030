package config

import (
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"parley/internal/domain"
)

const day = 24 * time.Hour

// profile overrides the protocol and storage tunables of a named setup.
type profile struct {
	maxSkipped      int
	maxChainGap     int
	frequency       int
	triple          bool
	oneTimePreKeys  int
	preKeyTTL       time.Duration
	signedPreKeyTTL time.Duration
}

var profiles = map[string]profile{
	// Standard Signal parameters.
	"baseline": {
		maxSkipped: 1000, maxChainGap: 1000, frequency: 1, oneTimePreKeys: 100,
		preKeyTTL: day, signedPreKeyTTL: 7 * day,
	},
	// Short key lifetimes, small skip window and the triple chain.
	"high-security": {
		maxSkipped: 50, maxChainGap: 50, frequency: 1, triple: true, oneTimePreKeys: 200,
		preKeyTTL: 4 * time.Hour, signedPreKeyTTL: day,
	},
	// Fewer derivations per message and long-lived keys.
	"performance": {
		maxSkipped: 5000, maxChainGap: 5000, frequency: 10, oneTimePreKeys: 50,
		preKeyTTL: 7 * day, signedPreKeyTTL: 30 * day,
	},
	// Constrained devices.
	"low-memory": {
		maxSkipped: 10, maxChainGap: 100, frequency: 1, oneTimePreKeys: 10,
		preKeyTTL: 2 * day, signedPreKeyTTL: 7 * day,
	},
	"research": {
		maxSkipped: 500, maxChainGap: 1000, frequency: 5, oneTimePreKeys: 75,
		preKeyTTL: 3 * day, signedPreKeyTTL: 14 * day,
	},
	// Heavy loss and reordering.
	"network-disruption": {
		maxSkipped: 2000, maxChainGap: 5000, frequency: 1, oneTimePreKeys: 150,
		preKeyTTL: day, signedPreKeyTTL: 7 * day,
	},
	// Frequent rotation to study post-compromise recovery.
	"compromise-recovery": {
		maxSkipped: 1000, maxChainGap: 1000, frequency: 1, triple: true, oneTimePreKeys: 300,
		preKeyTTL: time.Hour, signedPreKeyTTL: 4 * time.Hour,
	},
}

// Profiles lists the named profiles.
func Profiles() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ApplyProfile overrides the tunables defined by the named profile.
func (c *Config) ApplyProfile(name string) error {
	key := strings.ToLower(strings.TrimSpace(name))
	p, ok := profiles[key]
	if !ok {
		return errors.Wrapf(domain.ErrUnknownStrategy, "profile %q", name)
	}
	c.Profile = key
	c.Protocol.MaxSkippedMessageKeys = p.maxSkipped
	c.Protocol.MaxChainGap = p.maxChainGap
	c.Protocol.ChainKeyUpdateFrequency = p.frequency
	c.Protocol.UseTripleRatchet = p.triple
	c.Storage.OneTimePreKeys = p.oneTimePreKeys
	c.Storage.PreKeyTTL = Duration{p.preKeyTTL}
	c.Storage.SignedPreKeyTTL = Duration{p.signedPreKeyTTL}
	return nil
}
