package kvstore

import (
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/acksell/cfkv/kv/kvsdk"
)

// Key layout:
//
//	data:      'd' [namespace] 0x00 [key]
//	catalog:   'n' [namespace id]
//
// The 0x00 separator keeps one namespace from being a prefix of another.
const (
	dataMarker    byte = 'd'
	catalogMarker byte = 'n'
	nsSeparator   byte = 0x00
)

func keyspacePrefix(ns string) []byte {
	p := make([]byte, 0, len(ns)+2)
	p = append(p, dataMarker)
	p = append(p, ns...)
	return append(p, nsSeparator)
}

func catalogKey(id string) []byte {
	return append([]byte{catalogMarker}, id...)
}

// envelope is the stored form of a value. Metadata is kept as JSON so reads
// return the same shapes a JSON speaking remote would.
type envelope struct {
	Value    []byte `msgpack:"v"`
	Metadata []byte `msgpack:"m,omitempty"`
}

func encodeEnvelope(kv kvsdk.KeyValue) ([]byte, error) {
	env := envelope{Value: kv.Value}
	if kv.Metadata != nil {
		md, err := json.Marshal(kv.Metadata)
		if err != nil {
			return nil, errors.Wrapf(err, "encode metadata of %s", kv.Key)
		}
		env.Metadata = md
	}
	return msgpack.Marshal(&env)
}

func decodeEnvelope(b []byte) (value []byte, md kvsdk.Metadata, err error) {
	var env envelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return nil, nil, errors.Wrap(err, "decode envelope")
	}
	if len(env.Metadata) > 0 {
		if err := json.Unmarshal(env.Metadata, &md); err != nil {
			return nil, nil, errors.Wrap(err, "decode metadata")
		}
	}
	return env.Value, md, nil
}

// ErrInvalidCursor is returned by List for a cursor it did not issue.
var ErrInvalidCursor = errors.New("invalid cursor")

func encodeCursor(lastKey string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(lastKey))
}

func decodeCursor(cursor string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", errors.Wrap(ErrInvalidCursor, err.Error())
	}
	return string(b), nil
}
