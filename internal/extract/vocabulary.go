package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"parcelfetch/internal/config"
	"parcelfetch/internal/domain"
)

var allPhrases = []string{"all", "all documents", "all docs", "all records", "documents", "everything"}

// Vocabulary is the fixed county/document-type lexicon the extractors
// resolve text against. It is immutable once built.
type Vocabulary struct {
	counties  map[string]domain.CountyID
	docTypes  map[string]domain.DocTypeID
	all       map[string]bool
	fuzzy     []docAlias
	patterns  []countyPattern
	maxWords  int
	threshold float64
}

type docAlias struct {
	phrase string
	words  int
	id     domain.DocTypeID
}

type countyPattern struct {
	id domain.CountyID
	re *regexp.Regexp
}

// NewVocabulary builds the lexicon from cfg.
func NewVocabulary(cfg *config.Config) (*Vocabulary, error) {
	v := &Vocabulary{
		counties:  map[string]domain.CountyID{},
		docTypes:  map[string]domain.DocTypeID{},
		all:       map[string]bool{},
		threshold: cfg.Parser.FuzzyThreshold,
	}
	for _, id := range cfg.CountyIDs() {
		county := cfg.Counties[string(id)]
		v.addCounty(string(id), id)
		for _, alias := range county.Aliases {
			v.addCounty(alias, id)
		}
		re, err := regexp.Compile(county.TMSPattern)
		if err != nil {
			return nil, fmt.Errorf("county %s tms pattern: %w", id, err)
		}
		v.patterns = append(v.patterns, countyPattern{id: id, re: re})
	}
	for _, id := range cfg.DocTypeIDs() {
		dt := cfg.DocumentTypes[string(id)]
		v.addDocType(strings.ReplaceAll(string(id), "_", " "), id)
		v.addDocType(dt.Name, id)
		for _, alias := range dt.Aliases {
			v.addDocType(alias, id)
		}
	}
	sort.Slice(v.fuzzy, func(i, j int) bool { return v.fuzzy[i].phrase < v.fuzzy[j].phrase })
	for _, p := range allPhrases {
		v.all[p] = true
		v.track(p)
	}
	return v, nil
}

func (v *Vocabulary) addCounty(phrase string, id domain.CountyID) {
	key := normalizePhrase(phrase)
	if key == "" {
		return
	}
	v.counties[key] = id
	v.track(key)
}

func (v *Vocabulary) addDocType(phrase string, id domain.DocTypeID) {
	key := normalizePhrase(phrase)
	if key == "" {
		return
	}
	if _, seen := v.docTypes[key]; seen {
		return
	}
	v.docTypes[key] = id
	v.fuzzy = append(v.fuzzy, docAlias{phrase: key, words: len(strings.Fields(key)), id: id})
	v.track(key)
}

func (v *Vocabulary) track(phrase string) {
	if n := len(strings.Fields(phrase)); n > v.maxWords {
		v.maxWords = n
	}
}

// County resolves a county name or alias.
func (v *Vocabulary) County(phrase string) (domain.CountyID, bool) {
	id, ok := v.counties[normalizePhrase(phrase)]
	return id, ok
}

// IsAll reports whether phrase means "every document type".
func (v *Vocabulary) IsAll(phrase string) bool {
	return v.all[normalizePhrase(phrase)]
}

// DocType resolves a document type phrase exactly, then by similarity.
func (v *Vocabulary) DocType(phrase string) (domain.DocTypeID, bool) {
	key := normalizePhrase(phrase)
	if id, ok := v.docTypes[key]; ok {
		return id, true
	}
	return v.fuzzyDocType(key, len(strings.Fields(key)))
}

func (v *Vocabulary) fuzzyDocType(key string, words int) (domain.DocTypeID, bool) {
	if len(key) < 4 {
		return "", false
	}
	var best domain.DocTypeID
	bestScore := 0.0
	for _, alias := range v.fuzzy {
		if alias.words != words {
			continue
		}
		if s := similarity(key, alias.phrase); s > bestScore {
			best, bestScore = alias.id, s
		}
	}
	if bestScore >= v.threshold {
		return best, true
	}
	return "", false
}

// MatchTMS returns every county whose pattern accepts the normalized number,
// in county id order.
func (v *Vocabulary) MatchTMS(normalized string) []domain.CountyID {
	var out []domain.CountyID
	for _, p := range v.patterns {
		if p.re.MatchString(normalized) {
			out = append(out, p.id)
		}
	}
	return out
}

var tmsSeparators = strings.NewReplacer("-", "", ".", "", " ", "")

// NormalizeTMS strips the separators people put inside parcel numbers.
func NormalizeTMS(s string) string {
	return tmsSeparators.Replace(strings.TrimSpace(s))
}

var digitsOnly = regexp.MustCompile(`^\d+$`)

// LooksLikeTMS reports whether s is a numeric token long enough to be a
// parcel number in some jurisdiction.
func LooksLikeTMS(s string) bool {
	n := NormalizeTMS(s)
	return len(n) >= 5 && digitsOnly.MatchString(n)
}

func normalizePhrase(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func similarity(a, b string) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
