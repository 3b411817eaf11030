package store

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"parley/internal/domain"
)

// encMode keeps sub-second precision of timestamps.
var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// save encodes v as the data of rec and stores it.
func save(kv domain.KeyStorage, rec domain.KeyRecord, v any) error {
	raw, err := encMode.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", rec.ID)
	}
	rec.Data = raw
	return kv.Store(rec)
}

// load decodes the record stored under id into v.
func load(kv domain.KeyStorage, id string, v any) (bool, error) {
	rec, ok, err := kv.Get(id)
	if err != nil || !ok {
		return false, err
	}
	if err := cbor.Unmarshal(rec.Data, v); err != nil {
		return false, errors.Wrapf(err, "decode %s", id)
	}
	return true, nil
}
