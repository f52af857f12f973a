package broker

import (
	"bytes"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses and decompresses publish payloads before they are
// handed to a commit log's Append (spec §6.3's commit log stores T; T here
// is a Publish whose payload this codec has already transformed). Mirrors
// the per-batch compression menu a Kafka client configures for producing
// and transparently reverses on fetch.
type Codec interface {
	Name() string
	Encode(payload []byte) ([]byte, error)
	Decode(payload []byte) ([]byte, error)
}

// CodecNone stores payloads unmodified. The broker's default.
type CodecNone struct{}

func (CodecNone) Name() string                        { return "none" }
func (CodecNone) Encode(p []byte) ([]byte, error)      { return p, nil }
func (CodecNone) Decode(p []byte) ([]byte, error)      { return p, nil }

// CodecSnappy compresses with github.com/golang/snappy.
type CodecSnappy struct{}

func (CodecSnappy) Name() string { return "snappy" }

func (CodecSnappy) Encode(p []byte) ([]byte, error) {
	return snappy.Encode(nil, p), nil
}

func (CodecSnappy) Decode(p []byte) ([]byte, error) {
	return snappy.Decode(nil, p)
}

// CodecLZ4 compresses with github.com/pierrec/lz4/v4.
type CodecLZ4 struct{}

func (CodecLZ4) Name() string { return "lz4" }

func (CodecLZ4) Encode(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(p); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (CodecLZ4) Decode(p []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(p))
	return io.ReadAll(r)
}

// CodecZstd compresses with github.com/klauspost/compress/zstd.
type CodecZstd struct{}

func (CodecZstd) Name() string { return "zstd" }

func (CodecZstd) Encode(p []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(p, nil), nil
}

func (CodecZstd) Decode(p []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(p, nil)
}
