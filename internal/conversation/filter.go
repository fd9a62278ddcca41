package conversation

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// DefaultFillerWords contains common English filler words that on their own
// do not make a transcript worth answering.
var DefaultFillerWords = []string{
	"um", "uh", "uhh", "umm",
	"like", "you know", "basically",
	"er", "ah", "hmm", "mm",
	"well", "okay", "so",
}

var (
	spacePattern = regexp.MustCompile(`\s+`)
	punctPattern = regexp.MustCompile(`^[.,!?;:\s]+$`)
)

// Filter detects transcripts that carry no content beyond filler words.
type Filter struct {
	mu          sync.RWMutex
	fillerWords map[string]struct{}
	pattern     *regexp.Regexp
}

// NewFilter creates a filter. A nil list selects DefaultFillerWords.
func NewFilter(fillerWords []string) *Filter {
	f := &Filter{}
	if fillerWords == nil {
		fillerWords = DefaultFillerWords
	}
	f.SetFillerWords(fillerWords)
	return f
}

// SetFillerWords replaces the filler word list.
func (f *Filter) SetFillerWords(words []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fillerWords = make(map[string]struct{}, len(words))
	for _, word := range words {
		word = strings.ToLower(strings.TrimSpace(word))
		if word != "" {
			f.fillerWords[word] = struct{}{}
		}
	}
	f.buildPattern()
}

// buildPattern constructs a word-boundary regex from the filler words.
// Longer phrases come first so "you know" wins over a shorter overlap.
func (f *Filter) buildPattern() {
	if len(f.fillerWords) == 0 {
		f.pattern = nil
		return
	}

	words := make([]string, 0, len(f.fillerWords))
	for word := range f.fillerWords {
		words = append(words, word)
	}
	sort.Slice(words, func(i, j int) bool {
		if len(words[i]) != len(words[j]) {
			return len(words[i]) > len(words[j])
		}
		return words[i] < words[j]
	})

	patterns := make([]string, len(words))
	for i, word := range words {
		patterns[i] = `\b` + regexp.QuoteMeta(word) + `\b`
	}
	f.pattern = regexp.MustCompile(`(?i)(` + strings.Join(patterns, `|`) + `)`)
}

// Clean removes filler words and normalizes whitespace. The boolean reports
// whether anything meaningful is left.
func (f *Filter) Clean(text string) (cleaned string, hasMeaningfulContent bool) {
	if text == "" {
		return "", false
	}

	f.mu.RLock()
	pattern := f.pattern
	f.mu.RUnlock()

	cleaned = text
	if pattern != nil {
		cleaned = pattern.ReplaceAllString(cleaned, "")
	}
	cleaned = strings.TrimSpace(spacePattern.ReplaceAllString(cleaned, " "))

	if punctPattern.MatchString(cleaned) {
		cleaned = ""
	}

	return cleaned, cleaned != ""
}

// IsFillerOnly reports whether text is empty or holds only filler words.
func (f *Filter) IsFillerOnly(text string) bool {
	_, ok := f.Clean(text)
	return !ok
}
