package index

import (
	"unicode"
	"unicode/utf8"
)

type Token struct {
	Text []byte
}

// StandardTokenizer splits text on spaces and punctuation and lowercases the
// tokens. Text fields are indexed with it and text queries analyzed with it.
type StandardTokenizer struct {
	input      []byte
	inputIndex int
	token      Token
	runes      []rune
	textBuffer []byte
}

func NewStandardTokenizer() *StandardTokenizer {
	return &StandardTokenizer{
		runes:      make([]rune, 0, 64),
		textBuffer: make([]byte, 0, 64),
	}
}

func (t *StandardTokenizer) Reset(input []byte) {
	t.input = input
	t.inputIndex = 0
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
}

func (t *StandardTokenizer) emit() *Token {
	t.textBuffer = t.textBuffer[:0]
	for _, r := range t.runes {
		t.textBuffer = utf8.AppendRune(t.textBuffer, r)
	}
	t.token.Text = t.textBuffer

	return &t.token
}

// NextToken returns the next token of the input. The token is valid until
// the next call.
func (t *StandardTokenizer) NextToken() (*Token, bool) {
	t.runes = t.runes[:0]

	for t.inputIndex < len(t.input) {
		r, size := utf8.DecodeRune(t.input[t.inputIndex:])
		t.inputIndex += size

		if isSeparator(r) {
			if len(t.runes) > 0 {
				return t.emit(), true
			}
			continue
		}

		t.runes = append(t.runes, unicode.ToLower(r))
	}

	if len(t.runes) > 0 {
		return t.emit(), true
	}

	return nil, false
}

// Analyze returns the tokens of text as independent strings.
func Analyze(text string) []string {
	tokenizer := NewStandardTokenizer()
	tokenizer.Reset([]byte(text))

	terms := make([]string, 0)
	for {
		token, ok := tokenizer.NextToken()
		if !ok {
			return terms
		}

		terms = append(terms, string(token.Text))
	}
}
