package router

import (
	"strings"
)

// Fixed reference constants for the complexity score. These are properties
// of the scoring design, not deployment tunables.
const (
	keywordRef     = 4    // reasoning cues at which the keyword term saturates
	lengthRef      = 4000 // total characters at which the length term saturates
	turnRef        = 8    // conversation turns at which the turn term saturates
	symbolDensity  = 0.02 // technical-symbol fraction that flips the code indicator
	mathDensityRef = 0.01 // math-symbol fraction that flips the math indicator
)

// reasoningCues are the keywords whose presence suggests the request needs a
// stronger model.
var reasoningCues = []string{
	"analyze", "analyse", "prove", "derive", "explain", "design",
	"optimize", "optimise", "evaluate", "compare", "reason",
	"theorem", "algorithm", "complexity", "architecture",
	"debug", "refactor", "implement", "step by step",
}

var mathSymbols = "=+*/^<>∑∫√±≈≠≤≥"

var codeSymbols = "{}[]();<>=&|"

// Complexity scores the reasoning load of a prompt on [0,1]:
//
//	0.40 · min(keyword_count/keywordRef, 1)
//	0.20 · min(total_chars/lengthRef, 1)
//	0.20 · [code fence present, or technical-symbol density > symbolDensity]
//	0.10 · min(turns/turnRef, 1)
//	0.10 · [math-symbol density > mathDensityRef]
func Complexity(contents []string) float64 {
	var totalChars, keywords, mathChars, codeChars int
	fenced := false
	for _, text := range contents {
		totalChars += len(text)
		lower := strings.ToLower(text)
		for _, cue := range reasoningCues {
			keywords += strings.Count(lower, cue)
		}
		if strings.Contains(text, "```") {
			fenced = true
		}
		for _, r := range text {
			if strings.ContainsRune(mathSymbols, r) {
				mathChars++
			}
			if strings.ContainsRune(codeSymbols, r) {
				codeChars++
			}
		}
	}
	if totalChars == 0 {
		return 0
	}

	score := 0.40 * clamp01(float64(keywords)/keywordRef)
	score += 0.20 * clamp01(float64(totalChars)/lengthRef)
	if fenced || float64(codeChars)/float64(totalChars) > symbolDensity {
		score += 0.20
	}
	score += 0.10 * clamp01(float64(len(contents))/turnRef)
	if float64(mathChars)/float64(totalChars) > mathDensityRef {
		score += 0.10
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
