package routing

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// ambiguityMarkers are phrases that signal the caller is unsure or the
// turn needs disambiguation, pushing complexity up.
var ambiguityMarkers = []string{
	"maybe", "not sure", "i think", "possibly", "i guess", "don't know",
	"dont know", "whichever", "whatever works", "it depends", "um", "uh",
	"either", "or maybe", "can't remember", "cant remember",
}

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// tokenCount estimates prompt length. The tokenizer codec is loaded once;
// on failure we fall back to a whitespace count rather than erroring a turn.
func tokenCount(text string) int {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			codec = c
		}
	})
	if codec == nil {
		return len(strings.Fields(text))
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return len(strings.Fields(text))
	}
	return len(ids)
}

// complexitySignals are the raw inputs to the per-turn complexity score.
type complexitySignals struct {
	unfilledRequired    int
	totalRequired       int
	clarificationTurns  int
	input               string
	historicFailureRate float64
}

// complexityScore folds the signals into [0,1]. Weights favor the slot
// gap and ambiguity, which track hard turns far better than raw length.
func complexityScore(sig complexitySignals) float64 {
	var score float64

	if sig.totalRequired > 0 {
		score += 0.35 * float64(sig.unfilledRequired) / float64(sig.totalRequired)
	}

	clar := float64(sig.clarificationTurns) / 3.0
	if clar > 1 {
		clar = 1
	}
	score += 0.20 * clar

	low := strings.ToLower(sig.input)
	markers := 0
	for _, m := range ambiguityMarkers {
		if strings.Contains(low, m) {
			markers++
		}
	}
	amb := float64(markers) / 2.0
	if amb > 1 {
		amb = 1
	}
	score += 0.25 * amb

	length := float64(tokenCount(sig.input)) / 150.0
	if length > 1 {
		length = 1
	}
	score += 0.10 * length

	score += 0.10 * sig.historicFailureRate

	if score > 1 {
		score = 1
	}
	return score
}
