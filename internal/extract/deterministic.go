package extract

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"parcelfetch/internal/domain"
)

var tokenPattern = regexp.MustCompile(`[A-Za-z]+(?:'[A-Za-z]+)?|\d[\d.\-]*\d|\d`)

// Words that carry no entity of their own even when capitalized.
var stopwords = map[string]bool{
	"collect": true, "get": true, "fetch": true, "download": true, "pull": true,
	"retrieve": true, "find": true, "please": true, "grab": true, "gather": true,
	"for": true, "and": true, "the": true, "of": true, "with": true, "in": true,
	"county": true, "tms": true, "pin": true, "parcel": true, "parcels": true,
	"number": true, "numbers": true, "property": true, "tax": true, "i": true,
	"sc": true, "south": true, "carolina": true,
}

// Deterministic extracts entities by scanning tokens left to right and
// taking the longest vocabulary match at each position.
type Deterministic struct {
	vocab *Vocabulary
}

func NewDeterministic(vocab *Vocabulary) *Deterministic {
	return &Deterministic{vocab: vocab}
}

type token struct {
	text  string
	lower string
}

func tokenize(text string) []token {
	raw := tokenPattern.FindAllString(text, -1)
	out := make([]token, len(raw))
	for i, r := range raw {
		out[i] = token{text: r, lower: strings.ToLower(r)}
	}
	return out
}

func (d *Deterministic) Extract(_ context.Context, text string) []domain.Entity {
	tokens := tokenize(text)
	var out []domain.Entity
	for i := 0; i < len(tokens); {
		if ent, n := d.matchPhrase(tokens[i:]); n > 0 {
			out = append(out, ent)
			i += n
			continue
		}
		tok := tokens[i]
		i++
		switch {
		case isNumeric(tok.text):
			normalized := NormalizeTMS(tok.text)
			if len(d.vocab.MatchTMS(normalized)) > 0 {
				out = append(out, domain.TMSNumber(tok.text, normalized))
			} else {
				out = append(out, domain.Unrecognized(tok.text))
			}
		case isCapitalized(tok.text) && !stopwords[tok.lower]:
			out = append(out, domain.Unrecognized(tok.text))
		}
	}
	return out
}

// matchPhrase tries county names, then document types, longest phrase first.
func (d *Deterministic) matchPhrase(tokens []token) (domain.Entity, int) {
	for n := min(d.vocab.maxWords, len(tokens)); n >= 1; n-- {
		window := tokens[:n]
		if isNumeric(window[0].text) {
			return domain.Entity{}, 0
		}
		phrase := joinLower(window)
		text := joinText(window)
		if id, ok := d.vocab.County(phrase); ok {
			return domain.CountyRef(text, id), n
		}
		if d.vocab.IsAll(phrase) {
			return domain.AllDocTypes(text), n
		}
		if id, ok := d.vocab.docTypes[phrase]; ok {
			return domain.DocTypeRef(text, id), n
		}
	}
	for n := min(d.vocab.maxWords, len(tokens)); n >= 1; n-- {
		window := tokens[:n]
		if anyNumeric(window) || (n == 1 && stopwords[window[0].lower]) {
			continue
		}
		if id, ok := d.vocab.fuzzyDocType(joinLower(window), n); ok {
			return domain.DocTypeRef(joinText(window), id), n
		}
	}
	return domain.Entity{}, 0
}

func joinLower(tokens []token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.lower
	}
	return strings.Join(parts, " ")
}

func joinText(tokens []token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.text
	}
	return strings.Join(parts, " ")
}

func isNumeric(s string) bool {
	return s != "" && unicode.IsDigit(rune(s[0]))
}

func anyNumeric(tokens []token) bool {
	for _, t := range tokens {
		if isNumeric(t.text) {
			return true
		}
	}
	return false
}

func isCapitalized(s string) bool {
	return s != "" && unicode.IsUpper(rune(s[0]))
}
