package ratchet

import (
	"math"

	"github.com/pkg/errors"

	"parley/internal/crypto"
	"parley/internal/crypto/aead"
	"parley/internal/crypto/kdf"
	"parley/internal/crypto/padding"
	"parley/internal/domain"
	"parley/internal/util/memzero"
)

// Observer is notified of committed ratchet events.
type Observer interface {
	DHRatchetStep()
	SkippedKeysStored(n int)
	SkippedKeysEvicted(n int)
}

type nopObserver struct{}

func (nopObserver) DHRatchetStep()         {}
func (nopObserver) SkippedKeysStored(int)  {}
func (nopObserver) SkippedKeysEvicted(int) {}

// Option configures a Ratchet.
type Option func(*Ratchet)

// WithObserver installs o.
func WithObserver(o Observer) Option {
	return func(r *Ratchet) {
		if o != nil {
			r.obs = o
		}
	}
}

// WithSuite selects the AEAD suite. The default is ChaCha20-Poly1305.
func WithSuite(s aead.Suite) Option {
	return func(r *Ratchet) {
		if s != nil {
			r.suite = s
		}
	}
}

type events struct {
	dhSteps, stored, evicted int
}

// Ratchet is the Double Ratchet state of one session.
//
// A Ratchet is not safe for concurrent use. Encrypt and Decrypt work on a
// copy of the state and commit it only on success, so a failed call leaves
// the ratchet exactly as it was.
type Ratchet struct {
	cfg   Config
	kdf   kdf.Strategy
	suite aead.Suite
	obs   Observer

	state domain.RatchetState // SkippedKeys lives in cache
	cache *skippedCache
	ev    events
}

// New returns an uninitialised ratchet.
func New(cfg Config, strategy kdf.Strategy, opts ...Option) (*Ratchet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strategy == nil {
		return nil, errors.Wrap(domain.ErrKeyDerivation, "nil kdf strategy")
	}
	r := &Ratchet{
		cfg:   cfg,
		kdf:   strategy,
		suite: aead.ChaCha20Poly1305,
		obs:   nopObserver{},
		cache: newSkippedCache(cfg.MaxSkippedMessageKeys),
	}
	for _, o := range opts {
		o(r)
	}
	if err := r.suite.CheckKeySize(cfg.MessageKeyLength); err != nil {
		return nil, errors.Wrap(domain.ErrKeyDerivation, err.Error())
	}
	return r, nil
}

// InitAsInitiator seeds the sending chain from the handshake output. The
// handshake ephemeral becomes the first ratchet key and the peer signed
// pre-key the first remote ratchet key.
func (r *Ratchet) InitAsInitiator(rootKey, chainKey []byte, ephemeral domain.KeyPair, peerSignedPreKey domain.X25519Public) error {
	w := r.fork()
	w.state = domain.RatchetState{
		RootKey:                 clone(rootKey),
		DiffieHellmanSelf:       ephemeral,
		PeerDiffieHellmanPublic: peerSignedPreKey,
		SendChainKey:            clone(chainKey),
	}
	w.cache.wipe()
	if w.cfg.UseTripleRatchet {
		seed, err := w.tripleSeed(rootKey, chainKey)
		if err != nil {
			w.Wipe()
			return err
		}
		w.state.TripleSendChainKey = seed
	}
	r.commit(w)
	return nil
}

// InitAsResponder seeds the receiving chain from the handshake output and
// immediately derives a sending chain from a fresh ratchet key.
func (r *Ratchet) InitAsResponder(rootKey, chainKey []byte, signedPreKey domain.KeyPair, peerEphemeral domain.X25519Public) error {
	w := r.fork()
	w.state = domain.RatchetState{
		RootKey:                 clone(rootKey),
		DiffieHellmanSelf:       signedPreKey,
		PeerDiffieHellmanPublic: peerEphemeral,
		ReceiveChainKey:         clone(chainKey),
	}
	w.cache.wipe()
	if w.cfg.UseTripleRatchet {
		seed, err := w.tripleSeed(rootKey, chainKey)
		if err != nil {
			w.Wipe()
			return err
		}
		w.state.TripleReceiveChainKey = seed
	}
	if err := w.sendHalf(); err != nil {
		w.Wipe()
		return err
	}
	r.commit(w)
	return nil
}

// Restore loads a persisted state.
func (r *Ratchet) Restore(st domain.RatchetState) error {
	if len(st.RootKey) == 0 {
		return errors.Wrap(domain.ErrRatchetNotInitialized, "root key")
	}
	w := r.fork()
	w.state = copyState(st)
	w.state.SkippedKeys = nil
	w.ev.evicted += w.cache.load(st.SkippedKeys, st.SkipSequence)
	r.commit(w)
	return nil
}

// State returns a deep copy of the state, skipped keys included, for
// persistence.
func (r *Ratchet) State() domain.RatchetState {
	st := copyState(r.state)
	st.SkippedKeys = r.cache.export()
	st.SkipSequence = r.cache.seq
	return st
}

// Initialized reports whether the ratchet holds a root key.
func (r *Ratchet) Initialized() bool { return len(r.state.RootKey) > 0 }

// Config returns the settings of r.
func (r *Ratchet) Config() Config { return r.cfg }

// SkippedKeys returns the number of cached skipped message keys.
func (r *Ratchet) SkippedKeys() int { return r.cache.Len() }

// Clone returns an independent deep copy of r.
func (r *Ratchet) Clone() *Ratchet { return r.fork() }

// Wipe zeroes all key material held by r.
func (r *Ratchet) Wipe() {
	wipeState(&r.state)
	r.cache.wipe()
}

// Encrypt pads and seals plaintext under the next sending key. ad is bound
// to the ciphertext together with the header.
func (r *Ratchet) Encrypt(plaintext, ad []byte) (domain.RatchetHeader, []byte, error) {
	if !r.Initialized() {
		return domain.RatchetHeader{}, nil, errors.Wrap(domain.ErrRatchetNotInitialized, "encrypt")
	}
	if r.state.SendMessageIndex == math.MaxUint32 {
		return domain.RatchetHeader{}, nil, errors.Wrap(domain.ErrMaxSkipExceeded, "send counter exhausted")
	}
	padded, err := padding.Pad(plaintext)
	if err != nil {
		return domain.RatchetHeader{}, nil, err
	}
	defer memzero.Zero(padded)

	w := r.fork()
	mk, err := w.nextSendKey()
	if err != nil {
		w.Wipe()
		return domain.RatchetHeader{}, nil, err
	}
	defer memzero.Zero(mk)

	iv, err := aead.NewIV()
	if err != nil {
		w.Wipe()
		return domain.RatchetHeader{}, nil, err
	}
	h := domain.RatchetHeader{
		DiffieHellmanPublicKey: w.state.DiffieHellmanSelf.Pub,
		MessageIndex:           w.state.SendMessageIndex,
		PreviousChainLength:    w.state.PreviousChainLength,
		IV:                     iv,
	}
	ct, err := aead.SealIV(w.suite, mk, iv, padded, associatedData(ad, h))
	if err != nil {
		w.Wipe()
		return domain.RatchetHeader{}, nil, err
	}
	w.state.SendMessageIndex++
	r.commit(w)
	return h, ct, nil
}

// Decrypt opens a message. Out-of-order messages are served from the
// skipped-key cache; a new remote ratchet key triggers a DH ratchet step.
func (r *Ratchet) Decrypt(h domain.RatchetHeader, ciphertext, ad []byte) ([]byte, error) {
	if !r.Initialized() {
		return nil, errors.Wrap(domain.ErrRatchetNotInitialized, "decrypt")
	}
	w := r.fork()
	pt, err := w.decrypt(h, ciphertext, ad)
	if err != nil {
		w.Wipe()
		return nil, err
	}
	r.commit(w)
	return pt, nil
}

func (r *Ratchet) decrypt(h domain.RatchetHeader, ciphertext, ad []byte) ([]byte, error) {
	// 1) A key skipped earlier.
	if mk, ok := r.cache.take(h.DiffieHellmanPublicKey, h.MessageIndex); ok {
		return r.open(mk, h, ciphertext, ad)
	}

	st := &r.state
	if h.DiffieHellmanPublicKey == st.PeerDiffieHellmanPublic {
		// 2) Already consumed, evicted or never produced.
		if len(st.ReceiveChainKey) > 0 && h.MessageIndex < st.ReceiveMessageIndex {
			return nil, errors.Wrapf(domain.ErrSkippedKeyNotFound, "n=%d", h.MessageIndex)
		}
	} else {
		// 3) New remote ratchet key: finish the old chain, then step.
		if err := r.skipUntil(h.PreviousChainLength); err != nil {
			return nil, err
		}
		if err := r.dhRatchet(h.DiffieHellmanPublicKey); err != nil {
			return nil, err
		}
	}

	// 4) Catch up to the header counter.
	if err := r.skipUntil(h.MessageIndex); err != nil {
		return nil, err
	}
	mk, err := r.nextReceiveKey()
	if err != nil {
		return nil, err
	}
	st.ReceiveMessageIndex++
	return r.open(mk, h, ciphertext, ad)
}

func (r *Ratchet) open(mk []byte, h domain.RatchetHeader, ciphertext, ad []byte) ([]byte, error) {
	defer memzero.Zero(mk)
	padded, err := aead.Open(r.suite, mk, h.IV, ciphertext, associatedData(ad, h))
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(padded)
	pt, err := padding.Unpad(padded)
	if err != nil {
		return nil, err
	}
	// pt aliases padded, which is wiped on return.
	return append([]byte{}, pt...), nil
}

// skipUntil caches receiving keys for counters [Nr, until).
func (r *Ratchet) skipUntil(until uint32) error {
	st := &r.state
	if until <= st.ReceiveMessageIndex {
		return nil
	}
	if gap := until - st.ReceiveMessageIndex; uint64(gap) > uint64(r.cfg.MaxChainGap) {
		return errors.Wrapf(domain.ErrMaxSkipExceeded, "gap of %d keys", gap)
	}
	if len(st.ReceiveChainKey) == 0 {
		return errors.Wrap(domain.ErrRatchetNotInitialized, "receive chain")
	}
	for st.ReceiveMessageIndex < until {
		mk, err := r.nextReceiveKey()
		if err != nil {
			return err
		}
		r.ev.evicted += r.cache.put(st.PeerDiffieHellmanPublic, st.ReceiveMessageIndex, mk)
		r.ev.stored++
		st.ReceiveMessageIndex++
	}
	return nil
}

// dhRatchet runs both halves of a DH ratchet step for a new remote key.
func (r *Ratchet) dhRatchet(peer domain.X25519Public) error {
	st := &r.state
	st.PreviousChainLength = st.SendMessageIndex
	st.SendMessageIndex = 0
	st.ReceiveMessageIndex = 0
	st.PeerDiffieHellmanPublic = peer

	// Receive half with our current key.
	dh, err := crypto.DH(st.DiffieHellmanSelf.Priv, peer)
	if err != nil {
		return errors.Wrap(domain.ErrDecryption, err.Error())
	}
	rk, ck, ckt, err := r.rootStep(st.RootKey, dh[:])
	memzero.Zero32(&dh)
	if err != nil {
		return err
	}
	replace(&st.RootKey, rk)
	replace(&st.ReceiveChainKey, ck)
	replace(&st.TripleReceiveChainKey, ckt)

	if err := r.sendHalf(); err != nil {
		return err
	}
	r.ev.dhSteps++
	return nil
}

// sendHalf replaces our ratchet key and derives a new sending chain.
func (r *Ratchet) sendHalf() error {
	st := &r.state
	pair, err := crypto.NewKeyPair()
	if err != nil {
		return err
	}
	dh, err := crypto.DH(pair.Priv, st.PeerDiffieHellmanPublic)
	if err != nil {
		return errors.Wrap(domain.ErrDecryption, err.Error())
	}
	rk, ck, ckt, err := r.rootStep(st.RootKey, dh[:])
	memzero.Zero32(&dh)
	if err != nil {
		return err
	}
	memzero.Zero32((*[32]byte)(&st.DiffieHellmanSelf.Priv))
	st.DiffieHellmanSelf = pair
	replace(&st.RootKey, rk)
	replace(&st.SendChainKey, ck)
	replace(&st.TripleSendChainKey, ckt)
	return nil
}

// fork returns a deep copy of r with no pending events.
func (r *Ratchet) fork() *Ratchet {
	return &Ratchet{
		cfg:   r.cfg,
		kdf:   r.kdf,
		suite: r.suite,
		obs:   r.obs,
		state: copyState(r.state),
		cache: r.cache.clone(),
	}
}

// commit replaces the state of r with that of w and reports w's events.
func (r *Ratchet) commit(w *Ratchet) {
	r.Wipe()
	r.state = w.state
	r.cache = w.cache
	for i := 0; i < w.ev.dhSteps; i++ {
		r.obs.DHRatchetStep()
	}
	if w.ev.stored > 0 {
		r.obs.SkippedKeysStored(w.ev.stored)
	}
	if w.ev.evicted > 0 {
		r.obs.SkippedKeysEvicted(w.ev.evicted)
	}
}

// associatedData is ad || header bytes.
func associatedData(ad []byte, h domain.RatchetHeader) []byte {
	hb := h.Bytes()
	out := make([]byte, 0, len(ad)+len(hb))
	out = append(out, ad...)
	return append(out, hb...)
}

func copyState(st domain.RatchetState) domain.RatchetState {
	out := st
	out.RootKey = clone(st.RootKey)
	out.SendChainKey = clone(st.SendChainKey)
	out.ReceiveChainKey = clone(st.ReceiveChainKey)
	out.TripleSendChainKey = clone(st.TripleSendChainKey)
	out.TripleReceiveChainKey = clone(st.TripleReceiveChainKey)
	if st.SkippedKeys != nil {
		out.SkippedKeys = make([]domain.SkippedKey, len(st.SkippedKeys))
		for i, k := range st.SkippedKeys {
			k.MessageKey = clone(k.MessageKey)
			out.SkippedKeys[i] = k
		}
	}
	return out
}

func wipeState(st *domain.RatchetState) {
	memzero.ZeroAll(st.RootKey, st.SendChainKey, st.ReceiveChainKey,
		st.TripleSendChainKey, st.TripleReceiveChainKey)
	memzero.Zero32((*[32]byte)(&st.DiffieHellmanSelf.Priv))
	for _, k := range st.SkippedKeys {
		memzero.Zero(k.MessageKey)
	}
}
