package filters

import (
	"fmt"

	"github.com/wudi/handoutify/ir/raw"
)

// applyPredictor reverses the /Predictor transform described by params.
func applyPredictor(data []byte, params raw.Dictionary) ([]byte, error) {
	predictor := intParam(params, "Predictor", 1)
	if predictor <= 1 {
		return data, nil
	}
	colors := intParam(params, "Colors", 1)
	bpc := intParam(params, "BitsPerComponent", 8)
	columns := intParam(params, "Columns", 1)
	if colors < 1 || bpc < 1 || columns < 1 {
		return nil, fmt.Errorf("invalid predictor parameters colors=%d bpc=%d columns=%d", colors, bpc, columns)
	}
	bpp := (colors*bpc + 7) / 8
	rowLen := (colors*bpc*columns + 7) / 8

	switch {
	case predictor == 2:
		return tiffUnpredict(data, rowLen, bpp, bpc)
	case predictor >= 10:
		return pngUnpredict(data, rowLen, bpp)
	default:
		return nil, fmt.Errorf("unsupported predictor %d", predictor)
	}
}

func pngUnpredict(data []byte, rowLen, bpp int) ([]byte, error) {
	stride := rowLen + 1
	out := make([]byte, 0, len(data)/stride*rowLen+rowLen)
	prev := make([]byte, rowLen)
	for off := 0; off < len(data); off += stride {
		end := off + stride
		if end > len(data) {
			end = len(data)
		}
		filter := data[off]
		row := make([]byte, rowLen)
		copy(row, data[off+1:end])
		for i := 0; i < rowLen; i++ {
			var left, upLeft byte
			if i >= bpp {
				left = row[i-bpp]
				upLeft = prev[i-bpp]
			}
			up := prev[i]
			switch filter {
			case 0:
			case 1:
				row[i] += left
			case 2:
				row[i] += up
			case 3:
				row[i] += byte((int(left) + int(up)) / 2)
			case 4:
				row[i] += paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("invalid png filter type %d", filter)
			}
		}
		out = append(out, row[:end-off-1]...)
		prev = row
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	default:
		return c
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func tiffUnpredict(data []byte, rowLen, bpp, bpc int) ([]byte, error) {
	if bpc != 8 && bpc != 16 {
		return nil, fmt.Errorf("tiff predictor with %d bits per component not supported", bpc)
	}
	out := append([]byte(nil), data...)
	for off := 0; off < len(out); off += rowLen {
		end := off + rowLen
		if end > len(out) {
			end = len(out)
		}
		row := out[off:end]
		if bpc == 8 {
			for i := bpp; i < len(row); i++ {
				row[i] += row[i-bpp]
			}
			continue
		}
		for i := bpp; i+1 < len(row); i += 2 {
			cur := uint16(row[i])<<8 | uint16(row[i+1])
			left := uint16(row[i-bpp])<<8 | uint16(row[i-bpp+1])
			cur += left
			row[i], row[i+1] = byte(cur>>8), byte(cur)
		}
	}
	return out, nil
}

func intParam(params raw.Dictionary, key string, def int) int {
	if params == nil {
		return def
	}
	if d, ok := params.(*raw.DictObj); ok && d == nil {
		return def
	}
	v, ok := params.Get(raw.NameLiteral(key))
	if !ok {
		return def
	}
	n, ok := v.(raw.Number)
	if !ok {
		return def
	}
	return int(n.Int())
}
