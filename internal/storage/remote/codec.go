// Package remote implements the Remote Store (C2): a shared Redis-backed
// cache tier storing each flag as one JSON blob per key, with pub/sub
// cache invalidation
// (spec §4.2), grounded on the RedisClient/RedisConfig shape the pack
// demonstrates plus the teacher's zstd audit-log compression habit.
package remote

import (
	"bytes"
	"encoding/json"

	"github.com/klauspost/compress/zstd"
)

// compressionThreshold gates zstd compression: payloads under this size
// aren't worth the CPU (spec's size-gated compression note).
const compressionThreshold = 256

// compressedMarker prefixes a zstd-compressed payload so decode() can tell
// it apart from a raw JSON blob without a separate side-channel flag.
var compressedMarker = []byte{0x28, 0xb5, 0x2f, 0xfd} // zstd magic number

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic("remote: failed to construct zstd encoder: " + err.Error())
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("remote: failed to construct zstd decoder: " + err.Error())
	}
}

// encode marshals v to JSON, compressing the result when it's large enough
// for zstd to earn its keep.
func encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(raw) < compressionThreshold {
		return raw, nil
	}
	return encoder.EncodeAll(raw, nil), nil
}

// decode reverses encode, auto-detecting a zstd-compressed payload via its
// magic-number prefix.
func decode(data []byte, v any) error {
	if bytes.HasPrefix(data, compressedMarker) {
		raw, err := decoder.DecodeAll(data, nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, v)
	}
	return json.Unmarshal(data, v)
}
