package scanner

import (
	"bytes"
	"errors"
	"io"
	"strconv"

	"github.com/wudi/handoutify/recovery"
)

type TokenType int

const (
	TokenDict    TokenType = iota // '<<'
	TokenArray                    // '['
	TokenName                     // '/Name'
	TokenString                   // literal or hex string
	TokenNumber                   // numeric value
	TokenBoolean                  // true/false
	TokenNull                     // null
	TokenRef                      // indirect ref '5 0 R'
	TokenStream                   // stream payload following the 'stream' keyword
	TokenKeyword                  // other keywords (obj, endobj, >>, ], xref, trailer, ...)
)

func (t TokenType) String() string {
	switch t {
	case TokenDict:
		return "dict"
	case TokenArray:
		return "array"
	case TokenName:
		return "name"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenBoolean:
		return "boolean"
	case TokenNull:
		return "null"
	case TokenRef:
		return "ref"
	case TokenStream:
		return "stream"
	default:
		return "keyword"
	}
}

// Token is a single lexical unit. Only the fields relevant to Type are set.
type Token struct {
	Type  TokenType
	Str   string // names and keywords
	Bytes []byte // strings and stream payloads
	Hex   bool   // string was written in hex notation
	Int   int64  // integers and the object number of refs
	Float float64
	IsInt bool
	Bool  bool
	Gen   int // generation of refs
	Pos   int64
}

type Scanner interface {
	Next() (Token, error)
	Position() int64
	SeekTo(offset int64) error
	SetNextStreamLength(n int64)
}

type Config struct {
	MaxStringLength int64
	MaxStreamLength int64
	WindowSize      int64
	Recovery        recovery.Strategy
}

// ErrSyntax marks lexical errors that could not be recovered.
var ErrSyntax = errors.New("pdf syntax error")

// pdfScanner incrementally buffers PDF data from a ReaderAt in fixed-size windows.
type pdfScanner struct {
	reader        io.ReaderAt
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
	chunkSize     int64
	eof           bool
}

// New returns a scanner reading from r on demand.
func New(r io.ReaderAt, cfg Config) Scanner {
	chunk := cfg.WindowSize
	if chunk <= 0 {
		chunk = 64 * 1024
	}
	return &pdfScanner{reader: r, cfg: cfg, nextStreamLen: -1, chunkSize: chunk}
}

// NewBytes returns a scanner over an in-memory buffer.
func NewBytes(data []byte, cfg Config) Scanner {
	return &pdfScanner{data: data, cfg: cfg, nextStreamLen: -1, eof: true}
}

func (s *pdfScanner) Position() int64 { return s.pos }

func (s *pdfScanner) SeekTo(offset int64) error {
	if offset < 0 {
		return errors.New("seek out of range")
	}
	if err := s.ensure(offset); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if offset > int64(len(s.data)) {
		return errors.New("seek out of range")
	}
	s.pos = offset
	return nil
}

func (s *pdfScanner) SetNextStreamLength(n int64) { s.nextStreamLen = n }

func (s *pdfScanner) Next() (Token, error) {
	if err := s.skipWSAndComments(); err != nil {
		return Token{}, err
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peek(1) == '<' {
			s.pos += 2
			return Token{Type: TokenDict, Str: "<<", Pos: start}, nil
		}
		return s.scanHexString()
	case '>':
		if s.peek(1) == '>' {
			s.pos += 2
			return Token{Type: TokenKeyword, Str: ">>", Pos: start}, nil
		}
		s.pos++
		return Token{Type: TokenKeyword, Str: ">", Pos: start}, nil
	case '[':
		s.pos++
		return Token{Type: TokenArray, Str: "[", Pos: start}, nil
	case ']':
		s.pos++
		return Token{Type: TokenKeyword, Str: "]", Pos: start}, nil
	case '{', '}':
		s.pos++
		return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	if isNumberStart(c) {
		return s.scanNumberOrRef()
	}
	return s.scanKeyword()
}

func (s *pdfScanner) skipWSAndComments() error {
	for {
		if err := s.ensure(s.pos); err != nil {
			return err
		}
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for {
				s.pos++
				if err := s.ensure(s.pos); err != nil {
					return err
				}
				if isEOL(s.data[s.pos]) {
					break
				}
			}
			continue
		}
		return nil
	}
}

// ensure makes s.data[n] addressable, returning io.EOF past the end of input.
func (s *pdfScanner) ensure(n int64) error {
	for int64(len(s.data)) <= n {
		if s.eof {
			return io.EOF
		}
		if err := s.loadMore(); err != nil {
			return err
		}
	}
	return nil
}

func (s *pdfScanner) loadMore() error {
	buf := make([]byte, s.chunkSize)
	n, err := s.reader.ReadAt(buf, int64(len(s.data)))
	if n > 0 {
		s.data = append(s.data, buf[:n]...)
	}
	if errors.Is(err, io.EOF) || n == 0 {
		s.eof = true
		return nil
	}
	return err
}

func (s *pdfScanner) peek(n int64) byte {
	if err := s.ensure(s.pos + n); err != nil {
		return 0
	}
	return s.data[s.pos+n]
}

// at returns the byte at i and whether it exists.
func (s *pdfScanner) at(i int64) (byte, bool) {
	if err := s.ensure(i); err != nil {
		return 0, false
	}
	return s.data[i], true
}

func (s *pdfScanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // skip '/'
	var out bytes.Buffer
	for {
		c, ok := s.at(s.pos)
		if !ok || isDelimiter(c) {
			break
		}
		if c == '#' {
			hi, okHi := s.at(s.pos + 1)
			lo, okLo := s.at(s.pos + 2)
			if okHi && okLo && isHex(hi) && isHex(lo) {
				out.WriteByte(fromHex(hi)<<4 | fromHex(lo))
				s.pos += 3
				continue
			}
		}
		out.WriteByte(c)
		s.pos++
	}
	return Token{Type: TokenName, Str: out.String(), Pos: start}, nil
}

func (s *pdfScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // skip '('
	var buf bytes.Buffer
	depth := 1
	for depth > 0 {
		c, ok := s.at(s.pos)
		if !ok {
			if err := s.recover(errors.New("unterminated literal string"), "literal"); err != nil {
				return Token{}, err
			}
			break
		}
		s.pos++
		switch c {
		case '\\':
			esc, ok := s.at(s.pos)
			if !ok {
				continue
			}
			s.pos++
			switch {
			case esc == '\r':
				if next, ok := s.at(s.pos); ok && next == '\n' {
					s.pos++
				}
			case esc == '\n':
			case esc >= '0' && esc <= '7':
				val := int(esc - '0')
				for k := 0; k < 2; k++ {
					d, ok := s.at(s.pos)
					if !ok || d < '0' || d > '7' {
						break
					}
					val = val<<3 + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(esc))
			}
		case '(':
			depth++
			buf.WriteByte(c)
		case ')':
			depth--
			if depth > 0 {
				buf.WriteByte(c)
			}
		case '\r':
			// EOL inside a string is normalized to LF.
			if next, ok := s.at(s.pos); ok && next == '\n' {
				s.pos++
			}
			buf.WriteByte('\n')
		default:
			buf.WriteByte(c)
		}
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, errors.New("literal string too long")
		}
	}
	return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
}

func (s *pdfScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // skip '<'
	var nibbles []byte
	closed := false
	for {
		c, ok := s.at(s.pos)
		if !ok {
			break
		}
		s.pos++
		if c == '>' {
			closed = true
			break
		}
		if isWhitespace(c) {
			continue
		}
		if !isHex(c) {
			if err := s.recover(errors.New("invalid character in hex string"), "hex"); err != nil {
				return Token{}, err
			}
			continue
		}
		nibbles = append(nibbles, c)
	}
	if !closed {
		if err := s.recover(errors.New("unterminated hex string"), "hex"); err != nil {
			return Token{}, err
		}
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, '0')
	}
	if s.cfg.MaxStringLength > 0 && int64(len(nibbles)/2) > s.cfg.MaxStringLength {
		return Token{}, errors.New("hex string too long")
	}
	out := make([]byte, len(nibbles)/2)
	for i := range out {
		out[i] = fromHex(nibbles[2*i])<<4 | fromHex(nibbles[2*i+1])
	}
	return Token{Type: TokenString, Bytes: out, Hex: true, Pos: start}, nil
}

func (s *pdfScanner) scanKeyword() (Token, error) {
	start := s.pos
	var buf bytes.Buffer
	for {
		c, ok := s.at(s.pos)
		if !ok || isDelimiter(c) {
			break
		}
		buf.WriteByte(c)
		s.pos++
	}
	if buf.Len() == 0 {
		// Stray delimiter such as ')'.
		c := s.data[s.pos]
		s.pos++
		if err := s.recover(errors.New("unexpected delimiter"), "keyword"); err != nil {
			return Token{}, err
		}
		return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
	}
	kw := buf.String()
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Str: kw, Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Str: kw, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	default:
		return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
	}
}

// scanStream reads the payload after the 'stream' keyword, using the length
// hint when it lands on 'endstream' and searching for the marker otherwise.
func (s *pdfScanner) scanStream(start int64) (Token, error) {
	hint := s.nextStreamLen
	s.nextStreamLen = -1

	// PDF 7.3.8: 'stream' is followed by CRLF or LF. A lone CR is tolerated.
	if c, ok := s.at(s.pos); ok && c == '\r' {
		s.pos++
		if c, ok := s.at(s.pos); ok && c == '\n' {
			s.pos++
		}
	} else if ok && c == '\n' {
		s.pos++
	} else if ok && c == ' ' {
		// Some writers emit "stream \n".
		s.pos++
		if c, ok := s.at(s.pos); ok && c == '\n' {
			s.pos++
		}
	}
	dataStart := s.pos

	if hint >= 0 {
		if s.cfg.MaxStreamLength > 0 && hint > s.cfg.MaxStreamLength {
			return Token{}, errors.New("stream too long")
		}
		end := dataStart + hint
		if s.hasEndstreamAt(end) {
			payload := append([]byte(nil), s.data[dataStart:end]...)
			s.pos = s.skipToEndstream(end)
			return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
		}
		if err := s.recover(errors.New("stream /Length does not match endstream"), "stream"); err != nil {
			return Token{}, err
		}
	}

	idx := s.findEndstream(dataStart)
	if idx < 0 {
		if err := s.recover(errors.New("endstream not found"), "stream"); err != nil {
			return Token{}, err
		}
		_ = s.ensure(int64(1<<62 - 1)) // slurp the remainder
		payload := append([]byte(nil), s.data[dataStart:]...)
		s.pos = int64(len(s.data))
		return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
	}
	end := idx
	if end > dataStart && s.data[end-1] == '\n' {
		end--
	}
	if end > dataStart && s.data[end-1] == '\r' {
		end--
	}
	if s.cfg.MaxStreamLength > 0 && end-dataStart > s.cfg.MaxStreamLength {
		return Token{}, errors.New("stream too long")
	}
	payload := append([]byte(nil), s.data[dataStart:end]...)
	s.pos = idx + int64(len(endstream))
	return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
}

var endstream = []byte("endstream")

// hasEndstreamAt reports whether 'endstream' follows offset end after optional whitespace.
func (s *pdfScanner) hasEndstreamAt(end int64) bool {
	i := end
	for {
		c, ok := s.at(i)
		if !ok {
			return false
		}
		if !isWhitespace(c) {
			break
		}
		i++
	}
	if err := s.ensure(i + int64(len(endstream)) - 1); err != nil {
		return false
	}
	return bytes.Equal(s.data[i:i+int64(len(endstream))], endstream)
}

func (s *pdfScanner) skipToEndstream(end int64) int64 {
	i := end
	for {
		c, ok := s.at(i)
		if !ok || !isWhitespace(c) {
			break
		}
		i++
	}
	return i + int64(len(endstream))
}

func (s *pdfScanner) findEndstream(from int64) int64 {
	for {
		if idx := bytes.Index(s.data[from:], endstream); idx >= 0 {
			return from + int64(idx)
		}
		if s.eof {
			return -1
		}
		if err := s.loadMore(); err != nil {
			return -1
		}
		// Re-scan the tail in case the marker straddles the window edge.
		if back := int64(len(s.data)) - s.chunkSize - int64(len(endstream)); back > from {
			from = back
		}
	}
}

func (s *pdfScanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	first, isInt := s.scanNumberString()
	if first == "" {
		s.pos++
		if err := s.recover(errors.New("invalid number"), "number"); err != nil {
			return Token{}, err
		}
		return Token{Type: TokenKeyword, Str: string(s.data[start]), Pos: start}, nil
	}
	if isInt {
		if tok, ok := s.tryRef(first); ok {
			tok.Pos = start
			return tok, nil
		}
		if i, err := strconv.ParseInt(first, 10, 64); err == nil {
			return Token{Type: TokenNumber, Int: i, Float: float64(i), IsInt: true, Pos: start}, nil
		}
	}
	f, err := strconv.ParseFloat(first, 64)
	if err != nil {
		// Forms like "--5" or "5-" are seen in the wild; treat them as zero.
		if rerr := s.recover(errors.New("malformed number "+first), "number"); rerr != nil {
			return Token{}, rerr
		}
		f = 0
	}
	return Token{Type: TokenNumber, Float: f, Pos: start}, nil
}

// tryRef looks ahead for "<gen> R" after an integer and rewinds when absent.
func (s *pdfScanner) tryRef(num string) (Token, bool) {
	save := s.pos
	if err := s.skipWSAndComments(); err != nil {
		s.pos = save
		return Token{}, false
	}
	genStr, genIsInt := s.scanNumberString()
	if genStr == "" || !genIsInt || genStr[0] == '-' || genStr[0] == '+' {
		s.pos = save
		return Token{}, false
	}
	if err := s.skipWSAndComments(); err != nil {
		s.pos = save
		return Token{}, false
	}
	if c, ok := s.at(s.pos); !ok || c != 'R' {
		s.pos = save
		return Token{}, false
	}
	if c, ok := s.at(s.pos + 1); ok && !isDelimiter(c) {
		s.pos = save
		return Token{}, false
	}
	n, err1 := strconv.ParseInt(num, 10, 64)
	g, err2 := strconv.Atoi(genStr)
	if err1 != nil || err2 != nil || n < 0 {
		s.pos = save
		return Token{}, false
	}
	s.pos++ // consume 'R'
	return Token{Type: TokenRef, Int: n, IsInt: true, Gen: g}, true
}

func (s *pdfScanner) scanNumberString() (string, bool) {
	start := s.pos
	var buf bytes.Buffer
	seenDigit := false
	isInt := true
	for {
		c, ok := s.at(s.pos)
		if !ok {
			break
		}
		switch {
		case c == '+' || c == '-':
			// Doubled or trailing signs stay part of the token.
		case c == '.':
			isInt = false
		case c >= '0' && c <= '9':
			seenDigit = true
		default:
			return s.finishNumber(start, buf.String(), seenDigit, isInt)
		}
		buf.WriteByte(c)
		s.pos++
	}
	return s.finishNumber(start, buf.String(), seenDigit, isInt)
}

func (s *pdfScanner) finishNumber(start int64, str string, seenDigit, isInt bool) (string, bool) {
	if !seenDigit {
		s.pos = start
		return "", false
	}
	return str, isInt
}

func (s *pdfScanner) recover(err error, component string) error {
	action := recovery.Decide(s.cfg.Recovery, err, recovery.Location{
		ByteOffset: s.pos,
		Component:  "scanner:" + component,
	})
	switch action {
	case recovery.ActionSkip, recovery.ActionFix, recovery.ActionWarn:
		return nil
	default:
		return errors.Join(ErrSyntax, err)
	}
}

func isNumberStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isEOL(c byte) bool { return c == '\r' || c == '\n' }

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}
