package scanner

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wudi/handoutify/recovery"
)

func newScanner(t *testing.T, data string, cfg Config) Scanner {
	t.Helper()
	return New(bytes.NewReader([]byte(data)), cfg)
}

func nextToken(t *testing.T, s Scanner) Token {
	t.Helper()
	tok, err := s.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tok
}

func TestScanner_BasicTokens(t *testing.T) {
	s := newScanner(t, "%PDF-1.7\n1 0 obj\n<< /Name /Value /Nums [1 2 3] /Flag true /Null null >>\nendobj", Config{})

	tok := nextToken(t, s)
	if tok.Type != TokenNumber || !tok.IsInt || tok.Int != 1 {
		t.Fatalf("expected first token number 1, got %+v", tok)
	}
	tok = nextToken(t, s)
	if tok.Type != TokenNumber || !tok.IsInt || tok.Int != 0 {
		t.Fatalf("expected generation number 0, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "obj" {
		t.Fatalf("expected obj keyword, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenDict {
		t.Fatalf("expected dict start, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Name" {
		t.Fatalf("expected Name key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Value" {
		t.Fatalf("expected Name value, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Nums" {
		t.Fatalf("expected Nums key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenArray {
		t.Fatalf("expected array start, got %+v", tok)
	}
	for i := int64(1); i <= 3; i++ {
		tok = nextToken(t, s)
		if tok.Type != TokenNumber || !tok.IsInt || tok.Int != i {
			t.Fatalf("expected array number %d, got %+v", i, tok)
		}
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "]" {
		t.Fatalf("expected array close, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Flag" {
		t.Fatalf("expected Flag key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenBoolean || !tok.Bool {
		t.Fatalf("expected true boolean, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Null" {
		t.Fatalf("expected Null key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenNull {
		t.Fatalf("expected null value, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != ">>" {
		t.Fatalf("expected dict close, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "endobj" {
		t.Fatalf("expected endobj, got %+v", tok)
	}
}

func TestScanner_References(t *testing.T) {
	s := newScanner(t, "[5 0 R 12 3 R 1 0 0 1 0 0]", Config{})
	nextToken(t, s) // [
	tok := nextToken(t, s)
	if tok.Type != TokenRef || tok.Int != 5 || tok.Gen != 0 {
		t.Fatalf("expected ref 5 0 R, got %+v", tok)
	}
	tok = nextToken(t, s)
	if tok.Type != TokenRef || tok.Int != 12 || tok.Gen != 3 {
		t.Fatalf("expected ref 12 3 R, got %+v", tok)
	}
	for i := 0; i < 6; i++ {
		if tok = nextToken(t, s); tok.Type != TokenNumber {
			t.Fatalf("expected plain number at %d, got %+v", i, tok)
		}
	}
}

func TestScanner_RefNeedsDelimiter(t *testing.T) {
	// "0 1 RG" is a colour operator tail, not a reference.
	s := newScanner(t, "0 0 1 RG", Config{})
	for i := 0; i < 3; i++ {
		if tok := nextToken(t, s); tok.Type != TokenNumber {
			t.Fatalf("expected number at %d, got %+v", i, tok)
		}
	}
	if tok := nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "RG" {
		t.Fatalf("expected RG keyword, got %+v", tok)
	}
}

func TestScanner_Strings(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		hex   bool
	}{
		{"simple", "(Hello)", "Hello", false},
		{"nested parens", "(a (b) c)", "a (b) c", false},
		{"escapes", `(line\nbreak\051)`, "line\nbreak)", false},
		{"octal", `(\101\102C)`, "ABC", false},
		{"line continuation", "(ab\\\ncd)", "abcd", false},
		{"hex", "<48656C6C6F>", "Hello", true},
		{"hex odd", "<414>", "A@", true},
		{"hex whitespace", "<41 42\n43>", "ABC", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := nextToken(t, newScanner(t, tt.input, Config{}))
			if tok.Type != TokenString {
				t.Fatalf("expected string, got %+v", tok)
			}
			if string(tok.Bytes) != tt.want || tok.Hex != tt.hex {
				t.Fatalf("got %q hex=%v, want %q hex=%v", tok.Bytes, tok.Hex, tt.want, tt.hex)
			}
		})
	}
}

func TestScanner_NameEscapes(t *testing.T) {
	tok := nextToken(t, newScanner(t, "/A#20B", Config{}))
	if tok.Type != TokenName || tok.Str != "A B" {
		t.Fatalf("expected decoded name, got %+v", tok)
	}
}

func TestScanner_Numbers(t *testing.T) {
	tests := []struct {
		input string
		isInt bool
		val   float64
	}{
		{"42", true, 42},
		{"-17", true, -17},
		{"3.25", false, 3.25},
		{".5", false, 0.5},
		{"-.75", false, -0.75},
	}
	for _, tt := range tests {
		tok := nextToken(t, newScanner(t, tt.input, Config{}))
		if tok.Type != TokenNumber || tok.IsInt != tt.isInt {
			t.Fatalf("%s: unexpected token %+v", tt.input, tok)
		}
		got := tok.Float
		if tok.IsInt {
			got = float64(tok.Int)
		}
		if got != tt.val {
			t.Fatalf("%s: got %v want %v", tt.input, got, tt.val)
		}
	}
}

func TestScanner_StreamWithLengthHint(t *testing.T) {
	s := newScanner(t, "stream\r\nabc endstream\nendstream endobj", Config{})
	s.SetNextStreamLength(13)
	tok := nextToken(t, s)
	if tok.Type != TokenStream || string(tok.Bytes) != "abc endstream" {
		t.Fatalf("expected hinted payload, got %q", tok.Bytes)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "endobj" {
		t.Fatalf("expected endobj after stream, got %+v", tok)
	}
}

func TestScanner_StreamWrongLengthStrict(t *testing.T) {
	s := newScanner(t, "stream\nabcdef\nendstream", Config{Recovery: recovery.NewStrictStrategy()})
	s.SetNextStreamLength(2)
	if _, err := s.Next(); !errors.Is(err, ErrSyntax) {
		t.Fatalf("expected syntax error, got %v", err)
	}
}

func TestScanner_StreamWrongLengthLenient(t *testing.T) {
	lenient := recovery.NewLenientStrategy(nil)
	s := newScanner(t, "stream\nabcdef\nendstream", Config{Recovery: lenient})
	s.SetNextStreamLength(2)
	tok := nextToken(t, s)
	if string(tok.Bytes) != "abcdef" {
		t.Fatalf("expected payload found by searching, got %q", tok.Bytes)
	}
	if len(lenient.Errors) != 1 {
		t.Fatalf("expected one recorded error, got %v", lenient.Errors)
	}
}

func TestScanner_SeekAndWindowing(t *testing.T) {
	data := "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx 7 0 obj (window) endobj"
	s := New(bytes.NewReader([]byte(data)), Config{WindowSize: 4})
	if err := s.SeekTo(33); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if tok := nextToken(t, s); tok.Int != 7 || tok.Pos != 33 {
		t.Fatalf("unexpected token after seek %+v", tok)
	}
	nextToken(t, s) // 0
	nextToken(t, s) // obj
	if tok := nextToken(t, s); string(tok.Bytes) != "window" {
		t.Fatalf("expected string across windows, got %+v", tok)
	}
	if err := s.SeekTo(int64(len(data) + 10)); err == nil {
		t.Fatalf("expected out of range seek error")
	}
}

func TestScanner_StringLengthLimit(t *testing.T) {
	s := newScanner(t, "(abcdefgh)", Config{MaxStringLength: 4})
	if _, err := s.Next(); err == nil {
		t.Fatalf("expected length limit error")
	}
}

func TestNewBytes(t *testing.T) {
	s := NewBytes([]byte("10 0 11 5"), Config{})
	var ints []int64
	for {
		tok, err := s.Next()
		if err != nil {
			break
		}
		ints = append(ints, tok.Int)
	}
	if len(ints) != 4 || ints[0] != 10 || ints[3] != 5 {
		t.Fatalf("unexpected tokens %v", ints)
	}
}
