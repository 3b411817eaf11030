package ratchet

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"parley/internal/domain"
	"parley/internal/util/memzero"
)

// KDF context labels.
const (
	infoRoot       = "DoubleRatchetRootKey"
	infoMessage    = "DoubleRatchetMessageKey"
	infoChain      = "DoubleRatchetChainKey"
	infoTriple     = "TripleRatchetMessageKey"
	infoTripleSeed = "TripleRatchetSeed"
	infoMix        = "RatchetEncryptMix"
)

// rootStep mixes a DH output into the root key and returns the new root key,
// a chain key and, with the triple ratchet, a triple chain key.
func (r *Ratchet) rootStep(rk, dh []byte) (newRK, ck, ckt []byte, err error) {
	n := r.cfg.RootKeyLength + r.cfg.ChainKeyLength
	if r.cfg.UseTripleRatchet {
		n += r.cfg.ChainKeyLength
	}
	out, err := r.kdf.DeriveKey(dh, rk, []byte(infoRoot), n)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "root step")
	}
	defer memzero.Zero(out)

	newRK = clone(out[:r.cfg.RootKeyLength])
	ck = clone(out[r.cfg.RootKeyLength : r.cfg.RootKeyLength+r.cfg.ChainKeyLength])
	if r.cfg.UseTripleRatchet {
		ckt = clone(out[r.cfg.RootKeyLength+r.cfg.ChainKeyLength:])
	}
	return newRK, ck, ckt, nil
}

// chainStep returns the message key for counter n of the chain ck together
// with the chain key that follows it. With an update frequency F > 1 every
// message still gets its own key, derived from the epoch chain key and n;
// the chain key itself only moves after the last counter of an epoch.
func (r *Ratchet) chainStep(ck []byte, n uint32) (next, mk []byte, err error) {
	if len(ck) == 0 {
		return nil, nil, errors.Wrap(domain.ErrRatchetNotInitialized, "chain key")
	}
	salt := make([]byte, r.cfg.ChainKeyLength)

	if r.cfg.ChainKeyUpdateFrequency == 1 {
		out, err := r.kdf.DeriveKey(ck, salt, []byte(infoMessage), r.cfg.ChainKeyLength+r.cfg.MessageKeyLength)
		if err != nil {
			return nil, nil, errors.Wrap(err, "chain step")
		}
		next = clone(out[:r.cfg.ChainKeyLength])
		mk = clone(out[r.cfg.ChainKeyLength:])
		memzero.Zero(out)
		return next, mk, nil
	}

	info := binary.BigEndian.AppendUint32([]byte(infoMessage), n)
	if mk, err = r.kdf.DeriveKey(ck, salt, info, r.cfg.MessageKeyLength); err != nil {
		return nil, nil, errors.Wrap(err, "chain step")
	}
	if (uint64(n)+1)%uint64(r.cfg.ChainKeyUpdateFrequency) != 0 {
		return clone(ck), mk, nil
	}
	if next, err = r.kdf.DeriveKey(ck, salt, []byte(infoChain), r.cfg.ChainKeyLength); err != nil {
		memzero.Zero(mk)
		return nil, nil, errors.Wrap(err, "chain step")
	}
	return next, mk, nil
}

// tripleStep advances a triple chain and returns its key.
func (r *Ratchet) tripleStep(ckt []byte) (next, tk []byte, err error) {
	if len(ckt) == 0 {
		return nil, nil, errors.Wrap(domain.ErrRatchetNotInitialized, "triple chain key")
	}
	out, err := r.kdf.DeriveKey(ckt, make([]byte, r.cfg.ChainKeyLength), []byte(infoTriple),
		r.cfg.ChainKeyLength+r.cfg.MessageKeyLength)
	if err != nil {
		return nil, nil, errors.Wrap(err, "triple step")
	}
	next = clone(out[:r.cfg.ChainKeyLength])
	tk = clone(out[r.cfg.ChainKeyLength:])
	memzero.Zero(out)
	return next, tk, nil
}

// mix binds the triple chain key into a message key. Both inputs are wiped.
func (r *Ratchet) mix(mk, tk []byte) ([]byte, error) {
	defer memzero.ZeroAll(mk, tk)
	out, err := r.kdf.DeriveKey(mk, tk, []byte(infoMix), r.cfg.MessageKeyLength)
	if err != nil {
		return nil, errors.Wrap(err, "mix")
	}
	return out, nil
}

// tripleSeed derives the first triple chain key from the handshake output.
func (r *Ratchet) tripleSeed(rootKey, chainKey []byte) ([]byte, error) {
	out, err := r.kdf.DeriveKey(chainKey, rootKey, []byte(infoTripleSeed), r.cfg.ChainKeyLength)
	if err != nil {
		return nil, errors.Wrap(err, "triple seed")
	}
	return out, nil
}

// nextSendKey consumes the next sending message key.
func (r *Ratchet) nextSendKey() ([]byte, error) {
	st := &r.state
	next, mk, err := r.chainStep(st.SendChainKey, st.SendMessageIndex)
	if err != nil {
		return nil, errors.Wrap(err, "send")
	}
	if r.cfg.UseTripleRatchet {
		nextT, tk, err := r.tripleStep(st.TripleSendChainKey)
		if err != nil {
			memzero.ZeroAll(next, mk)
			return nil, errors.Wrap(err, "send")
		}
		if mk, err = r.mix(mk, tk); err != nil {
			memzero.ZeroAll(next, nextT)
			return nil, err
		}
		replace(&st.TripleSendChainKey, nextT)
	}
	replace(&st.SendChainKey, next)
	return mk, nil
}

// nextReceiveKey consumes the next receiving message key.
func (r *Ratchet) nextReceiveKey() ([]byte, error) {
	st := &r.state
	next, mk, err := r.chainStep(st.ReceiveChainKey, st.ReceiveMessageIndex)
	if err != nil {
		return nil, errors.Wrap(err, "receive")
	}
	if r.cfg.UseTripleRatchet {
		nextT, tk, err := r.tripleStep(st.TripleReceiveChainKey)
		if err != nil {
			memzero.ZeroAll(next, mk)
			return nil, errors.Wrap(err, "receive")
		}
		if mk, err = r.mix(mk, tk); err != nil {
			memzero.ZeroAll(next, nextT)
			return nil, err
		}
		replace(&st.TripleReceiveChainKey, nextT)
	}
	replace(&st.ReceiveChainKey, next)
	return mk, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// replace wipes *dst and stores v in it.
func replace(dst *[]byte, v []byte) {
	memzero.Zero(*dst)
	*dst = v
}
