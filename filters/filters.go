package filters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/wudi/handoutify/ir/raw"
)

var (
	// ErrUnknownFilter is returned for filters the pipeline has no decoder for.
	ErrUnknownFilter = errors.New("unknown filter")
	// ErrLimitExceeded is returned when decoded output grows past Limits.MaxDecompressedSize.
	ErrLimitExceeded = errors.New("decompressed size exceeds limit")
)

type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params raw.Dictionary) ([]byte, error)
}

type Pipeline struct {
	decoders []Decoder
	limits   Limits
}

// NewPipeline constructs a pipeline with provided decoders and limits.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	return &Pipeline{decoders: decoders, limits: limits}
}

// NewDefaultPipeline returns a pipeline covering every non-image filter.
func NewDefaultPipeline(limits Limits) *Pipeline {
	return NewPipeline([]Decoder{
		&flateDecoder{maxOut: limits.MaxDecompressedSize},
		&lzwDecoder{maxOut: limits.MaxDecompressedSize},
		NewASCII85Decoder(),
		NewASCIIHexDecoder(),
		NewRunLengthDecoder(),
	}, limits)
}

type Limits struct {
	MaxDecompressedSize int64
	MaxDecodeTime       time.Duration
}

// Abbreviated names are only legal on inline images but some writers use them on streams.
var abbreviations = map[string]string{
	"Fl":  "FlateDecode",
	"LZW": "LZWDecode",
	"A85": "ASCII85Decode",
	"AHx": "ASCIIHexDecode",
	"RL":  "RunLengthDecode",
}

func (p *Pipeline) findDecoder(name string) Decoder {
	if full, ok := abbreviations[name]; ok {
		name = full
	}
	for _, d := range p.decoders {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// Decode applies filterNames in order. params is aligned with filterNames and may be shorter.
func (p *Pipeline) Decode(ctx context.Context, input []byte, filterNames []string, params []raw.Dictionary) ([]byte, error) {
	if p.limits.MaxDecodeTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.limits.MaxDecodeTime)
		defer cancel()
	}
	data := input
	for i, name := range filterNames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dec := p.findDecoder(name)
		if dec == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFilter, name)
		}
		var param raw.Dictionary
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(ctx, data, param)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, fmt.Errorf("%s: %w", name, ErrLimitExceeded)
		}
		data = out
	}
	return data, nil
}

// DecodeStream decodes a stream according to its own /Filter and /DecodeParms.
func (p *Pipeline) DecodeStream(ctx context.Context, s *raw.StreamObj) ([]byte, error) {
	if s.Dict == nil {
		return s.Data, nil
	}
	names, params := ExtractFilters(s.Dict)
	if len(names) == 0 {
		return s.Data, nil
	}
	return p.Decode(ctx, s.Data, names, params)
}

// readAllLimited drains r, stopping with ErrLimitExceeded once more than limit
// bytes were produced and with ctx's error once ctx is done.
func readAllLimited(ctx context.Context, r io.Reader, limit int64) ([]byte, error) {
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	out := make([]byte, 0, 4096)
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if limit > 0 && int64(len(out)) > limit {
			return nil, ErrLimitExceeded
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}
