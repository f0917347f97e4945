package asm

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

// TokenType identifies the kind of a token.
type TokenType int

const (
	TokenEOF      TokenType = iota
	TokenNewline            // end of a source line
	TokenIdent              // mnemonic, directive or method name
	TokenRegister           // r0 .. r255
	TokenInt                // integer literal
	TokenFloat              // float literal
	TokenString             // double-quoted string literal
	TokenLabel              // name: (label definition)
	TokenLabelRef           // @name (jump target)
	TokenOption             // key=value in a method header
	TokenIllegal
)

var tokenNames = [...]string{
	TokenEOF:      "end of file",
	TokenNewline:  "end of line",
	TokenIdent:    "identifier",
	TokenRegister: "register",
	TokenInt:      "integer",
	TokenFloat:    "float",
	TokenString:   "string",
	TokenLabel:    "label",
	TokenLabelRef: "label reference",
	TokenOption:   "option",
	TokenIllegal:  "illegal token",
}

func (t TokenType) String() string {
	if int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// Token is one lexical unit. Literal holds the decoded text: the name
// without its '@' or ':', the string without quotes, and so on.
type Token struct {
	Type    TokenType
	Literal string
	Line    int
}

// ---------------------------------------------------------------------------
// Lexer: tokenizer for assembler source
// ---------------------------------------------------------------------------

// Lexer tokenizes assembler source. Comments run from ';' to the end of
// the line.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	line    int  // current line (1-based)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = l.readPos
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipBlanks()
	line := l.line

	switch {
	case l.ch == 0:
		return Token{Type: TokenEOF, Line: line}
	case l.ch == '\n':
		l.line++
		l.readChar()
		return Token{Type: TokenNewline, Line: line}
	case l.ch == '"':
		return l.readString()
	case l.ch == '@':
		l.readChar()
		name := l.readWord()
		if name == "" {
			return Token{Type: TokenIllegal, Literal: "@", Line: line}
		}
		return Token{Type: TokenLabelRef, Literal: name, Line: line}
	case l.ch == '-' || l.ch == '+' || isDigit(l.ch):
		return l.readNumber()
	case isWordStart(l.ch):
		word := l.readWord()
		switch {
		case l.ch == ':':
			l.readChar()
			return Token{Type: TokenLabel, Literal: word, Line: line}
		case l.ch == '=':
			l.readChar()
			value := l.readWord()
			return Token{Type: TokenOption, Literal: word + "=" + value, Line: line}
		case isRegister(word):
			return Token{Type: TokenRegister, Literal: word[1:], Line: line}
		}
		return Token{Type: TokenIdent, Literal: word, Line: line}
	}

	ch := l.ch
	l.readChar()
	return Token{Type: TokenIllegal, Literal: string(ch), Line: line}
}

// skipBlanks skips spaces, tabs and comments but not newlines.
func (l *Lexer) skipBlanks() {
	for {
		switch {
		case l.ch == ';':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		case l.ch != '\n' && l.ch != 0 && unicode.IsSpace(l.ch):
			l.readChar()
		default:
			return
		}
	}
}

func (l *Lexer) readWord() string {
	start := l.pos
	for isWordChar(l.ch) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func (l *Lexer) readNumber() Token {
	line := l.line
	start := l.pos
	if l.ch == '-' || l.ch == '+' {
		l.readChar()
	}
	isFloat := false
	for isDigit(l.ch) || l.ch == '.' || l.ch == 'e' || l.ch == 'E' || l.ch == '_' ||
		((l.ch == '-' || l.ch == '+') && (l.input[l.pos-1] == 'e' || l.input[l.pos-1] == 'E')) {
		if l.ch == '.' || l.ch == 'e' || l.ch == 'E' {
			isFloat = true
		}
		l.readChar()
	}
	lit := l.input[start:l.pos]
	if isFloat {
		return Token{Type: TokenFloat, Literal: lit, Line: line}
	}
	return Token{Type: TokenInt, Literal: lit, Line: line}
}

func (l *Lexer) readString() Token {
	line := l.line
	var sb strings.Builder
	l.readChar() // opening quote
	for {
		switch l.ch {
		case '"':
			l.readChar()
			return Token{Type: TokenString, Literal: sb.String(), Line: line}
		case 0, '\n':
			return Token{Type: TokenIllegal, Literal: "unterminated string", Line: line}
		case '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '"', '\\':
				sb.WriteRune(l.ch)
			default:
				return Token{Type: TokenIllegal, Literal: fmt.Sprintf("unknown escape \\%c", l.ch), Line: line}
			}
		default:
			sb.WriteRune(l.ch)
		}
		l.readChar()
	}
}

func isDigit(ch rune) bool { return ch >= '0' && ch <= '9' }

func isWordStart(ch rune) bool { return ch == '_' || unicode.IsLetter(ch) }

func isWordChar(ch rune) bool {
	return ch == '_' || ch == '.' || unicode.IsLetter(ch) || unicode.IsDigit(ch)
}

func isRegister(word string) bool {
	if len(word) < 2 || word[0] != 'r' {
		return false
	}
	for _, c := range word[1:] {
		if !isDigit(c) {
			return false
		}
	}
	return true
}
