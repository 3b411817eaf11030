package ratchet

// RootStep exposes the root KDF step.
func RootStep(r *Ratchet, rk, dh []byte) (newRK, ck, ckt []byte, err error) {
	return r.rootStep(rk, dh)
}

// ChainStep exposes the chain KDF step.
func ChainStep(r *Ratchet, ck []byte, n uint32) (next, mk []byte, err error) {
	return r.chainStep(ck, n)
}
