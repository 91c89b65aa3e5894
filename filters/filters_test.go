package filters

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hhrutter/lzw"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"

	"github.com/wudi/handoutify/ir/raw"
)

func zlibBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func lzwBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := lzw.NewWriter(&buf, true)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func predictorParams(predictor, columns int64) *raw.DictObj {
	params := raw.Dict()
	params.Set(raw.NameObj{Val: "Predictor"}, raw.NumberInt(predictor))
	params.Set(raw.NameObj{Val: "Colors"}, raw.NumberInt(1))
	params.Set(raw.NameObj{Val: "BitsPerComponent"}, raw.NumberInt(8))
	params.Set(raw.NameObj{Val: "Columns"}, raw.NumberInt(columns))
	return params
}

func TestFlateDecode(t *testing.T) {
	out, err := NewFlateDecoder().Decode(context.Background(), zlibBytes(t, []byte("hello world")), nil)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(out))
}

func TestFlateDecodeRawDeflate(t *testing.T) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	require.NoError(t, err)
	w.Write([]byte("BT /F1 12 Tf ET"))
	w.Close()

	out, err := NewFlateDecoder().Decode(context.Background(), buf.Bytes(), nil)
	require.NoError(t, err)
	require.Equal(t, "BT /F1 12 Tf ET", string(out))
}

func TestFlateDecodeTruncatedChecksum(t *testing.T) {
	full := zlibBytes(t, []byte("q 1 0 0 1 0 0 cm Q"))
	// Drop the adler32 trailer.
	out, err := NewFlateDecoder().Decode(context.Background(), full[:len(full)-4], nil)
	require.NoError(t, err)
	require.Equal(t, "q 1 0 0 1 0 0 cm Q", string(out))
}

func TestFlateDecodeWithPredictor(t *testing.T) {
	// PNG predictor row: filter byte 1 (Sub), then row bytes.
	data := zlibBytes(t, []byte{1, 10, 12, 20})
	out, err := NewFlateDecoder().Decode(context.Background(), data, predictorParams(12, 3))
	require.NoError(t, err)
	require.Equal(t, []byte{10, 22, 42}, out)
}

func TestPNGPredictorRows(t *testing.T) {
	// Row 1 Up over row 0 None, row 2 Average, row 3 Paeth.
	data := []byte{
		0, 1, 2, 3,
		2, 1, 1, 1,
		3, 1, 1, 1,
		4, 0, 0, 0,
	}
	out, err := applyPredictor(data, predictorParams(15, 3))
	require.NoError(t, err)
	require.Equal(t, []byte{
		1, 2, 3,
		2, 3, 4,
		2, 3, 4,
		2, 3, 4,
	}, out)
}

func TestTIFFPredictor(t *testing.T) {
	out, err := applyPredictor([]byte{5, 1, 1, 7, 2, 2}, predictorParams(2, 3))
	require.NoError(t, err)
	require.Equal(t, []byte{5, 6, 7, 7, 9, 11}, out)
}

func TestLZWDecode(t *testing.T) {
	input := []byte("hello hello hello hello")
	out, err := NewLZWDecoder().Decode(context.Background(), lzwBytes(t, input), nil)
	require.NoError(t, err)
	require.Equal(t, input, out)
}

func TestLZWDecodeWithPredictor(t *testing.T) {
	// Single PNG row with filter None: [0,1,2,3]
	out, err := NewLZWDecoder().Decode(context.Background(), lzwBytes(t, []byte{0, 1, 2, 3}), predictorParams(12, 3))
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, out)
}

func TestRunLengthDecode(t *testing.T) {
	// literal run of 3 bytes (len=2), then repeat 'A' 2 times (len=255 => count=2), then EOD 128
	data := []byte{2, 'h', 'i', '!', 255, 'A', 128}
	out, err := NewRunLengthDecoder().Decode(context.Background(), data, nil)
	require.NoError(t, err)
	require.Equal(t, "hi!AA", string(out))

	_, err = NewRunLengthDecoder().Decode(context.Background(), []byte{5, 'a'}, nil)
	require.Error(t, err)
}

func TestASCII85Decode(t *testing.T) {
	for _, in := range []string{"<~87cURD_*#4DfTZ)+T~>", "87cURD_*#4DfTZ)+T~>", " 87cURD_*#4D\nfTZ)+T~> "} {
		out, err := NewASCII85Decoder().Decode(context.Background(), []byte(in), nil)
		require.NoError(t, err, in)
		require.Equal(t, "Hello, World!", string(out), in)
	}
}

func TestASCIIHexDecode(t *testing.T) {
	out, err := NewASCIIHexDecoder().Decode(context.Background(), []byte("68656c6c6f 20776f72\n6c64>"), nil)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(out))

	out, err = NewASCIIHexDecoder().Decode(context.Background(), []byte("414>"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0x41, 0x40}, out)
}

func TestPipelineChain(t *testing.T) {
	hexOfFlate := []byte{}
	for _, b := range zlibBytes(t, []byte("chained")) {
		hexOfFlate = append(hexOfFlate, "0123456789ABCDEF"[b>>4], "0123456789ABCDEF"[b&0xF])
	}
	hexOfFlate = append(hexOfFlate, '>')

	dict := raw.Dict()
	dict.Set(raw.NameLiteral("Filter"), raw.NewArray(raw.NameLiteral("AHx"), raw.NameLiteral("FlateDecode")))
	stream := raw.NewStream(dict, hexOfFlate)

	out, err := NewDefaultPipeline(Limits{}).DecodeStream(context.Background(), stream)
	require.NoError(t, err)
	require.Equal(t, "chained", string(out))
}

func TestPipelineUnfilteredStream(t *testing.T) {
	stream := raw.NewStream(raw.Dict(), []byte("BT ET"))
	out, err := NewDefaultPipeline(Limits{}).DecodeStream(context.Background(), stream)
	require.NoError(t, err)
	require.Equal(t, "BT ET", string(out))
}

func TestUnsupportedFilters(t *testing.T) {
	p := NewDefaultPipeline(Limits{})
	_, err := p.Decode(context.Background(), []byte("x"), []string{"JBIG2Decode"}, nil)
	require.True(t, errors.Is(err, ErrUnknownFilter), "got %v", err)
}

func TestPipelineSizeLimit(t *testing.T) {
	data := zlibBytes(t, bytes.Repeat([]byte("a"), 10000))
	p := NewDefaultPipeline(Limits{MaxDecompressedSize: 100})
	_, err := p.Decode(context.Background(), data, []string{"FlateDecode"}, nil)
	require.ErrorIs(t, err, ErrLimitExceeded)
}

func TestPipelineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewDefaultPipeline(Limits{MaxDecodeTime: time.Second})
	_, err := p.Decode(ctx, zlibBytes(t, []byte("x")), []string{"FlateDecode"}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestExtractFiltersAlignsParams(t *testing.T) {
	dict := raw.Dict()
	dict.Set(raw.NameLiteral("Filter"), raw.NewArray(raw.NameLiteral("ASCII85Decode"), raw.NameLiteral("FlateDecode")))
	parms := predictorParams(12, 4)
	dict.Set(raw.NameLiteral("DecodeParms"), raw.NewArray(raw.NullObj{}, parms))

	names, params := ExtractFilters(dict)
	require.Equal(t, []string{"ASCII85Decode", "FlateDecode"}, names)
	require.Len(t, params, 2)
	require.Nil(t, params[0])
	require.Equal(t, raw.Dictionary(parms), params[1])
}
