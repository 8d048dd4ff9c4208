package cache

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/270aldo/ngx.agents-sub005/compress"
)

// codec serializes values with msgpack and compresses payloads above the
// configured threshold. The compressed form is kept only when strictly
// smaller than the original; the compressed flag on the entry is the sole
// driver of decompression.
type codec struct {
	threshold int
	level     int
}

// encoded is the storable form of a value. data is what L1 keeps (possibly
// compressed); raw is the plain serialized form written to the remote tier.
type encoded struct {
	data         []byte
	raw          []byte
	originalSize int
	compressed   bool
}

// encode serializes val and applies threshold-triggered compression.
// A compression failure never fails the encode: the uncompressed form is
// kept and the failure is reported through compressErr so the caller can
// count it. Only serialization failures return err.
func (c *codec) encode(val any) (enc encoded, compressErr error, err error) {
	data, merr := msgpack.Marshal(val)
	if merr != nil {
		return encoded{}, nil, fmt.Errorf("%w: %v", ErrSerialization, merr)
	}
	enc, compressErr = c.encodeRaw(data)
	return enc, compressErr, nil
}

// encodeRaw applies threshold-triggered compression to already-serialized
// bytes. Used directly when promoting a remote payload into L1.
func (c *codec) encodeRaw(data []byte) (encoded, error) {
	enc := encoded{data: data, raw: data, originalSize: len(data)}
	if len(data) <= c.threshold {
		return enc, nil
	}
	packed, err := compress.Gzip(data, c.level)
	if err != nil {
		return enc, fmt.Errorf("error compressing value: %w", err)
	}
	if len(packed) < len(data) {
		enc.data = packed
		enc.compressed = true
	}
	return enc, nil
}

// decode reverses encode. Decompression is applied exactly once, driven
// solely by the compressed flag.
func (c *codec) decode(data []byte, compressed bool, out any) error {
	if compressed {
		raw, err := compress.Gunzip(data)
		if err != nil {
			return fmt.Errorf("error decompressing value: %w", err)
		}
		data = raw
	}
	if err := msgpack.Unmarshal(data, out); err != nil {
		return fmt.Errorf("error unmarshaling value: %w", err)
	}
	return nil
}
