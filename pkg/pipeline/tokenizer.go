package pipeline

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ikawaha/kagome-dict/uni"
	"github.com/ikawaha/kagome/v2/tokenizer"
)

// Tokenizer surfaces term candidates from raw document text. The concrete
// implementation is morphological; tests substitute a scripted one.
type Tokenizer interface {
	Candidates(text string) []string
}

// KagomeTokenizer analyzes text with UniDic and merges adjacent noun tokens
// into long units so compound proper nouns ("魔王城", "Acme Corporation")
// surface as single candidates.
type KagomeTokenizer struct {
	t *tokenizer.Tokenizer
}

// NewKagomeTokenizer loads the UniDic dictionary. The dictionary is
// memory-mapped once; the tokenizer is safe for reuse across runs.
func NewKagomeTokenizer() (*KagomeTokenizer, error) {
	t, err := tokenizer.New(uni.Dict(), tokenizer.OmitBosEos())
	if err != nil {
		return nil, fmt.Errorf("load tokenizer dictionary: %w", err)
	}
	return &KagomeTokenizer{t: t}, nil
}

// Candidates implements Tokenizer.
func (k *KagomeTokenizer) Candidates(text string) []string {
	tokens := k.t.Tokenize(text)

	var (
		candidates []string
		current    []string
		hasProper  bool
	)
	flush := func() {
		if len(current) > 0 {
			surface := strings.Join(current, "")
			if keepCandidate(surface, hasProper, len(current)) {
				candidates = append(candidates, surface)
			}
		}
		current = current[:0]
		hasProper = false
	}

	for _, tok := range tokens {
		pos := tok.POS()
		if len(pos) > 0 && pos[0] == "名詞" {
			current = append(current, tok.Surface)
			if len(pos) > 1 && pos[1] == "固有名詞" {
				hasProper = true
			}
			continue
		}
		// Unknown tokens are frequently coined words or foreign names.
		if tok.Class == tokenizer.UNKNOWN && looksLikeName(tok.Surface) {
			current = append(current, tok.Surface)
			hasProper = true
			continue
		}
		flush()
	}
	flush()
	return candidates
}

// keepCandidate filters merged noun runs down to plausible glossary terms:
// anything containing a proper noun, any run of two or more tokens, and
// single tokens that are katakana or start with an upper-case letter.
func keepCandidate(surface string, hasProper bool, tokenCount int) bool {
	if surface == "" {
		return false
	}
	if hasProper {
		return true
	}
	if tokenCount >= 2 {
		return true
	}
	return isKatakana(surface) || startsUpper(surface)
}

func looksLikeName(s string) bool {
	return isKatakana(s) || startsUpper(s)
}

func isKatakana(s string) bool {
	found := false
	for _, r := range s {
		if unicode.In(r, unicode.Katakana) || r == 'ー' {
			found = true
			continue
		}
		return false
	}
	return found
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}
