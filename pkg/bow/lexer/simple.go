package lexer

import (
	"strings"
	"unicode"
)

// Simple is a context-free alphabetic tokenizer: it splits on any
// non-letter rune, lowercases (unless CaseSensitive), drops words
// shorter than MinWordLength or longer than MaxWordLength, filters
// stopwords, and optionally stems what remains.
type Simple struct {
	Stoplist       map[string]struct{}
	Stem           func(string) string
	CaseSensitive  bool
	MinWordLength  int
	MaxWordLength  int
}

// NewSimple creates a Simple lexer with the standard defaults: words
// of length [2, 99], case-folded, no stemming.
func NewSimple(stopwords []string) *Simple {
	s := &Simple{
		Stoplist:      make(map[string]struct{}, len(stopwords)),
		MinWordLength: 2,
		MaxWordLength: 99,
	}
	for _, w := range stopwords {
		s.Stoplist[strings.ToLower(w)] = struct{}{}
	}
	return s
}

// Lex splits text into (term, position) tokens.
func (s *Simple) Lex(text string) []Token {
	var tokens []Token
	var cur strings.Builder
	pos := 0
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		word := cur.String()
		cur.Reset()
		if t, ok := s.process(word); ok {
			tokens = append(tokens, Token{Term: t, Position: pos})
			pos++
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) {
			if !s.CaseSensitive {
				r = unicode.ToLower(r)
			}
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

func (s *Simple) process(word string) (string, bool) {
	if len(word) < s.MinWordLength || len(word) > s.MaxWordLength {
		return "", false
	}
	if _, stop := s.Stoplist[word]; stop {
		return "", false
	}
	if s.Stem != nil {
		word = s.Stem(word)
	}
	return word, true
}

// IsStopword reports whether word is in the stoplist (case-folded to
// match Lex's own normalization unless CaseSensitive is set).
func (s *Simple) IsStopword(word string) bool {
	if !s.CaseSensitive {
		word = strings.ToLower(word)
	}
	_, ok := s.Stoplist[word]
	return ok
}

// AddStopword adds a word to the stoplist.
func (s *Simple) AddStopword(word string) {
	s.Stoplist[strings.ToLower(word)] = struct{}{}
}
