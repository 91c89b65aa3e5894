package filters

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/hhrutter/lzw"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"

	"github.com/wudi/handoutify/ir/raw"
)

type flateDecoder struct{ maxOut int64 }

func NewFlateDecoder() Decoder { return &flateDecoder{} }

func (*flateDecoder) Name() string { return "FlateDecode" }

// Decode inflates zlib data. Streams written without the zlib header are
// retried as raw deflate, and a truncated or badly checksummed tail keeps
// whatever was inflated before it.
func (d *flateDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	var (
		rc  io.ReadCloser
		err error
	)
	rc, err = zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		rc = flate.NewReader(bytes.NewReader(in))
	}
	defer rc.Close()

	out, err := readAllLimited(ctx, rc, d.maxOut)
	if err != nil {
		if !isTruncation(err) || len(out) == 0 {
			return nil, err
		}
	}
	return applyPredictor(out, params)
}

func isTruncation(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, zlib.ErrChecksum)
}

type lzwDecoder struct{ maxOut int64 }

func NewLZWDecoder() Decoder { return &lzwDecoder{} }

func (*lzwDecoder) Name() string { return "LZWDecode" }

// Decode expands LZW data. /EarlyChange defaults to 1, the code width
// switching one code early as PDF writers do.
func (d *lzwDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	early := intParam(params, "EarlyChange", 1) == 1
	rc := lzw.NewReader(bytes.NewReader(in), early)
	defer rc.Close()

	out, err := readAllLimited(ctx, rc, d.maxOut)
	if err != nil {
		if !errors.Is(err, io.ErrUnexpectedEOF) || len(out) == 0 {
			return nil, err
		}
	}
	return applyPredictor(out, params)
}
