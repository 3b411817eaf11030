package x3dh

import (
	"github.com/pkg/errors"

	"parley/internal/crypto"
	"parley/internal/crypto/kdf"
	"parley/internal/domain"
	"parley/internal/util/memzero"
)

const (
	// Info is the KDF context label of the handshake.
	Info = "ParleyX3DH"
	// KeySize is the length of the root key and of the initial chain key.
	KeySize = 32
)

// Result is the output of one side of the handshake.
type Result struct {
	RootKey  []byte
	ChainKey []byte
	Mode     domain.HandshakeMode

	// Initiator only: the ephemeral pair, which also becomes the first
	// ratchet key of the initiator.
	Ephemeral domain.KeyPair

	SignedPreKeyID  domain.SignedPreKeyID
	OneTimePreKeyID domain.OneTimePreKeyID
}

// Wipe zeroes the secret parts of r.
func (r *Result) Wipe() {
	memzero.ZeroAll(r.RootKey, r.ChainKey)
	memzero.Zero32((*[32]byte)(&r.Ephemeral.Priv))
}

// PreKeyMessage returns the handshake parameters the initiator attaches to
// its first messages.
func (r Result) PreKeyMessage(self domain.Identity) domain.PreKeyMessage {
	return domain.PreKeyMessage{
		InitiatorIdentityKey: self.XPub,
		InitiatorSigningKey:  self.EdPub,
		EphemeralKey:         r.Ephemeral.Pub,
		SignedPreKeyID:       r.SignedPreKeyID,
		OneTimePreKeyID:      r.OneTimePreKeyID,
	}
}

// VerifySignedPreKey checks the Ed25519 signature over a signed pre-key.
func VerifySignedPreKey(signer domain.Ed25519Public, spk domain.X25519Public, sig []byte) error {
	if !crypto.VerifyEd25519(signer, spk[:], sig) {
		return errors.Wrap(domain.ErrSignatureVerification, "signed pre-key")
	}
	return nil
}

// VerifyBundle checks the signed pre-key of a published bundle.
func VerifyBundle(b domain.PreKeyBundle) error {
	if err := VerifySignedPreKey(b.SigningKey, b.SignedPreKey, b.SignedPreKeySignature); err != nil {
		return errors.Wrapf(err, "bundle %s/%s", b.Username, b.DeviceID)
	}
	return nil
}

// Initiate runs the initiator side against a peer bundle. When the bundle
// carries one-time pre-keys the first one is used.
func Initiate(s kdf.Strategy, self domain.Identity, bundle domain.PreKeyBundle) (Result, error) {
	// 1) Authenticate the signed pre-key.
	if err := VerifyBundle(bundle); err != nil {
		return Result{}, err
	}

	// 2) Fresh ephemeral.
	eph, err := crypto.NewKeyPair()
	if err != nil {
		return Result{}, errors.Wrap(err, "ephemeral key")
	}

	// 3) DH1..DH4 in fixed order.
	privs := []domain.X25519Private{eph.Priv, self.XPriv, eph.Priv}
	pubs := []domain.X25519Public{bundle.SignedPreKey, bundle.SignedPreKey, bundle.IdentityKey}
	res := Result{
		Mode:           domain.HandshakeThreeDH,
		Ephemeral:      eph,
		SignedPreKeyID: bundle.SignedPreKeyID,
	}
	if len(bundle.OneTimePreKeys) > 0 {
		opk := bundle.OneTimePreKeys[0]
		privs = append(privs, eph.Priv)
		pubs = append(pubs, opk.Pub)
		res.Mode = domain.HandshakeFourDH
		res.OneTimePreKeyID = opk.ID
	}

	transcript, err := agree(privs, pubs)
	if err != nil {
		return Result{}, err
	}

	// 4) Root key and chain key.
	if res.RootKey, res.ChainKey, err = derive(s, transcript); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Respond runs the responder side for a received pre-key message. opk must be
// the consumed one-time pre-key named by msg, or nil when msg names none.
func Respond(
	s kdf.Strategy,
	self domain.Identity,
	spk domain.SignedPreKey,
	opk *domain.OneTimePreKeyPair,
	msg domain.PreKeyMessage,
) (Result, error) {
	// 1) Our own signed pre-key must still verify.
	if err := VerifySignedPreKey(self.EdPub, spk.Pair.Pub, spk.Signature); err != nil {
		return Result{}, err
	}
	if msg.SignedPreKeyID != spk.ID {
		return Result{}, errors.Wrapf(domain.ErrNotFound, "signed pre-key %q", msg.SignedPreKeyID)
	}
	if msg.OneTimePreKeyID != "" && (opk == nil || opk.ID != msg.OneTimePreKeyID) {
		return Result{}, errors.Wrapf(domain.ErrNotFound, "one-time pre-key %q", msg.OneTimePreKeyID)
	}

	// 2) Mirror DH1..DH4.
	privs := []domain.X25519Private{spk.Pair.Priv, spk.Pair.Priv, self.XPriv}
	pubs := []domain.X25519Public{msg.EphemeralKey, msg.InitiatorIdentityKey, msg.EphemeralKey}
	res := Result{
		Mode:           domain.HandshakeThreeDH,
		SignedPreKeyID: spk.ID,
	}
	if msg.OneTimePreKeyID != "" {
		privs = append(privs, opk.Priv)
		pubs = append(pubs, msg.EphemeralKey)
		res.Mode = domain.HandshakeFourDH
		res.OneTimePreKeyID = opk.ID
	}

	transcript, err := agree(privs, pubs)
	if err != nil {
		return Result{}, err
	}
	if res.RootKey, res.ChainKey, err = derive(s, transcript); err != nil {
		return Result{}, err
	}
	return res, nil
}

// agree concatenates DH(privs[i], pubs[i]) in order.
func agree(privs []domain.X25519Private, pubs []domain.X25519Public) ([]byte, error) {
	transcript := make([]byte, 0, 32*len(privs))
	for i := range privs {
		shared, err := crypto.DH(privs[i], pubs[i])
		if err != nil {
			memzero.Zero(transcript)
			return nil, err
		}
		transcript = append(transcript, shared[:]...)
		memzero.Zero32(&shared)
	}
	return transcript, nil
}

func derive(s kdf.Strategy, transcript []byte) (root, chain []byte, err error) {
	defer memzero.Zero(transcript)
	out, err := s.DeriveKey(transcript, make([]byte, 32), []byte(Info), 2*KeySize)
	if err != nil {
		return nil, nil, errors.Wrap(err, "x3dh")
	}
	root = append([]byte(nil), out[:KeySize]...)
	chain = append([]byte(nil), out[KeySize:]...)
	memzero.Zero(out)
	return root, chain, nil
}
