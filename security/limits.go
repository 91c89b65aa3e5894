package security

import "time"

// Limits bounds the work done while loading a document, so that hostile or
// broken files (deflate bombs, reference loops, runaway strings) fail fast.
type Limits struct {
	// Maximum decompressed stream size. Default: 256 MB.
	MaxDecompressedSize int64

	// Maximum nesting of arrays and dictionaries. Default: 100.
	MaxNestingDepth int

	// Maximum number of xref sections followed through /Prev. Default: 64.
	MaxXRefDepth int

	// Maximum string length (bytes). Default: 16 MB.
	MaxStringLength int64

	// Maximum raw stream length (bytes). Default: 256 MB.
	MaxStreamLength int64

	// Maximum decode time per stream. Default: 30s.
	MaxDecodeTime time.Duration
}

// DefaultLimits returns the limits used when a Config leaves them zero.
func DefaultLimits() Limits {
	return Limits{
		MaxDecompressedSize: 256 << 20,
		MaxNestingDepth:     100,
		MaxXRefDepth:        64,
		MaxStringLength:     16 << 20,
		MaxStreamLength:     256 << 20,
		MaxDecodeTime:       30 * time.Second,
	}
}

// WithDefaults fills every zero field from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	def := DefaultLimits()
	if l.MaxDecompressedSize <= 0 {
		l.MaxDecompressedSize = def.MaxDecompressedSize
	}
	if l.MaxNestingDepth <= 0 {
		l.MaxNestingDepth = def.MaxNestingDepth
	}
	if l.MaxXRefDepth <= 0 {
		l.MaxXRefDepth = def.MaxXRefDepth
	}
	if l.MaxStringLength <= 0 {
		l.MaxStringLength = def.MaxStringLength
	}
	if l.MaxStreamLength <= 0 {
		l.MaxStreamLength = def.MaxStreamLength
	}
	if l.MaxDecodeTime <= 0 {
		l.MaxDecodeTime = def.MaxDecodeTime
	}
	return l
}
