package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"parley/internal/crypto/aead"
	"parley/internal/crypto/kdf"
	"parley/internal/domain"
	"parley/internal/protocol/ratchet"
)

// FileName is the configuration file inside the home directory.
const FileName = "parley.toml"

// Storage backends.
const (
	BackendBolt    = "bolt"
	BackendLevelDB = "leveldb"
)

// Duration is a time.Duration written as "72h" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Device identifies the local account.
type Device struct {
	Username string `toml:"username"`
	DeviceID uint32 `toml:"device_id"`
}

// Relay configures the relay client.
type Relay struct {
	URL     string   `toml:"url"`
	Timeout Duration `toml:"timeout"`
	Retries int      `toml:"retries"`
}

// Protocol is the Double Ratchet configuration.
type Protocol struct {
	ChainKeyUpdateFrequency int    `toml:"chain_key_update_frequency"`
	KDF                     string `toml:"kdf"`
	KDFHash                 string `toml:"kdf_hash"`
	KDFIterations           int    `toml:"kdf_iterations"`
	MessageKeyLength        int    `toml:"message_key_length"`
	ChainKeyLength          int    `toml:"chain_key_length"`
	RootKeyLength           int    `toml:"root_key_length"`
	UseTripleRatchet        bool   `toml:"use_triple_ratchet"`
	MaxSkippedMessageKeys   int    `toml:"max_skipped_message_keys"`
	MaxChainGap             int    `toml:"max_chain_gap"`
	Cipher                  string `toml:"cipher"`
}

// Storage configures the encrypted key store.
type Storage struct {
	Backend         string   `toml:"backend"`
	Path            string   `toml:"path"`
	KDF             string   `toml:"kdf"`
	KDFHash         string   `toml:"kdf_hash"`
	KDFIterations   int      `toml:"kdf_iterations"`
	KDFMemoryKiB    uint32   `toml:"kdf_memory_kib"`
	PreKeyTTL       Duration `toml:"prekey_ttl"`
	SignedPreKeyTTL Duration `toml:"signed_prekey_ttl"`
	OneTimePreKeys  int      `toml:"one_time_prekeys"`
}

// Logging configures the zap logger.
type Logging struct {
	Level       string `toml:"level"`
	Disable     bool   `toml:"disable"`
	Development bool   `toml:"development"`
}

// Metrics configures where engine counters are exported.
type Metrics struct {
	// Textfile, when set, receives the counters in Prometheus text format
	// when the CLI exits.
	Textfile string `toml:"textfile"`
	// Listen is where long-running commands serve /metrics. Empty disables it.
	Listen string `toml:"listen"`
}

// Config is the top-level parley configuration.
type Config struct {
	Profile  string   `toml:"profile,omitempty"`
	Device   Device   `toml:"device"`
	Relay    Relay    `toml:"relay"`
	Protocol Protocol `toml:"protocol"`
	Storage  Storage  `toml:"storage"`
	Logging  Logging  `toml:"logging"`
	Metrics  Metrics  `toml:"metrics"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	rc := ratchet.DefaultConfig()
	return &Config{
		Device: Device{DeviceID: 1},
		Relay: Relay{
			URL:     "http://127.0.0.1:8080",
			Timeout: Duration{10 * time.Second},
			Retries: 3,
		},
		Protocol: Protocol{
			ChainKeyUpdateFrequency: rc.ChainKeyUpdateFrequency,
			KDF:                     kdf.NameHKDF,
			KDFHash:                 kdf.HashSHA256,
			KDFIterations:           1000,
			MessageKeyLength:        rc.MessageKeyLength,
			ChainKeyLength:          rc.ChainKeyLength,
			RootKeyLength:           rc.RootKeyLength,
			UseTripleRatchet:        rc.UseTripleRatchet,
			MaxSkippedMessageKeys:   rc.MaxSkippedMessageKeys,
			MaxChainGap:             rc.MaxChainGap,
			Cipher:                  aead.NameChaCha20Poly1305,
		},
		Storage: Storage{
			Backend:         BackendBolt,
			Path:            "keys.db",
			KDF:             kdf.NameScrypt,
			KDFHash:         kdf.HashSHA256,
			PreKeyTTL:       Duration{30 * 24 * time.Hour},
			SignedPreKeyTTL: Duration{7 * 24 * time.Hour},
			OneTimePreKeys:  100,
		},
		Logging: Logging{Level: "info"},
		Metrics: Metrics{Listen: ":9090"},
	}
}

// Load parses b on top of the defaults, applies the selected profile and
// validates the result. Unknown keys are rejected.
func Load(b []byte) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "config")
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, errors.Errorf("config: undecoded keys in config file: %v", undecoded)
	}
	if cfg.Profile != "" {
		if err := cfg.ApplyProfile(cfg.Profile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads path. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Load(nil)
	}
	if err != nil {
		return nil, err
	}
	return Load(b)
}

// Save writes cfg to path via a temp file, then atomically replaces the
// target.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return errors.Wrap(err, "encode config")
	}

	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	// Best-effort cleanup if anything fails before rename.
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// String renders the configuration as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	_ = toml.NewEncoder(&buf).Encode(c)
	return buf.String()
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if err := c.Ratchet().Validate(); err != nil {
		return errors.Wrap(err, "protocol")
	}
	if _, err := c.ProtocolKDF(); err != nil {
		return errors.Wrap(err, "protocol")
	}
	suite, err := c.Suite()
	if err != nil {
		return errors.Wrap(err, "protocol")
	}
	if err := suite.CheckKeySize(c.Protocol.MessageKeyLength); err != nil {
		return errors.Wrapf(domain.ErrKeyDerivation, "protocol: %v", err)
	}
	if _, err := c.StorageKDF(); err != nil {
		return errors.Wrap(err, "storage")
	}
	switch c.Storage.Backend {
	case BackendBolt, BackendLevelDB:
	default:
		return errors.Wrapf(domain.ErrUnknownStrategy, "storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Path == "" {
		return errors.New("storage: empty path")
	}
	if c.Storage.PreKeyTTL.Duration <= 0 || c.Storage.SignedPreKeyTTL.Duration <= 0 {
		return errors.New("storage: prekey lifetimes must be positive")
	}
	if c.Storage.OneTimePreKeys < 0 {
		return errors.New("storage: negative one_time_prekeys")
	}
	if c.Relay.Retries < 0 {
		return errors.New("relay: negative retries")
	}
	if c.Relay.Timeout.Duration <= 0 {
		return errors.New("relay: timeout must be positive")
	}
	return nil
}

// Ratchet returns the Double Ratchet settings.
func (c *Config) Ratchet() ratchet.Config {
	p := c.Protocol
	return ratchet.Config{
		ChainKeyUpdateFrequency: p.ChainKeyUpdateFrequency,
		MessageKeyLength:        p.MessageKeyLength,
		ChainKeyLength:          p.ChainKeyLength,
		RootKeyLength:           p.RootKeyLength,
		UseTripleRatchet:        p.UseTripleRatchet,
		MaxSkippedMessageKeys:   p.MaxSkippedMessageKeys,
		MaxChainGap:             p.MaxChainGap,
	}
}

// ProtocolKDF builds the strategy used by X3DH and the ratchet.
func (c *Config) ProtocolKDF() (kdf.Strategy, error) {
	return kdf.New(c.Protocol.KDF, kdf.Params{
		Hash:       c.Protocol.KDFHash,
		Iterations: c.Protocol.KDFIterations,
	})
}

// StorageKDF builds the strategy that turns the passphrase into the storage
// master key.
func (c *Config) StorageKDF() (kdf.Strategy, error) {
	iterations := c.Storage.KDFIterations
	if iterations == 0 && strings.EqualFold(c.Storage.KDF, kdf.NamePBKDF2) {
		iterations = 600000
	}
	return kdf.New(c.Storage.KDF, kdf.Params{
		Hash:       c.Storage.KDFHash,
		Iterations: iterations,
		MemoryKiB:  c.Storage.KDFMemoryKiB,
	})
}

// Suite returns the AEAD suite for messages.
func (c *Config) Suite() (aead.Suite, error) {
	return aead.Lookup(c.Protocol.Cipher)
}

// LocalProfile returns the local account as a domain.Profile.
func (c *Config) LocalProfile() domain.Profile {
	return domain.Profile{
		Username: domain.Username(c.Device.Username),
		DeviceID: domain.DeviceID(c.Device.DeviceID),
		RelayURL: c.Relay.URL,
	}
}
