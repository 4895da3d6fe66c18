// Package filter censors configured bad words in chat text.
package filter

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
)

// Filter replaces configured words with asterisks of equal length.
// Matching is case-insensitive and word-boundary aware, so "ass"
// does not censor "class". Safe for concurrent use; Reload swaps
// the compiled pattern atomically.
type Filter struct {
	mu      sync.RWMutex
	pattern *regexp.Regexp
	words   int
}

// New builds a filter from a word list. Empty and comment lines
// ("#...") are ignored.
func New(words []string) (*Filter, error) {
	f := &Filter{}
	if err := f.set(words); err != nil {
		return nil, err
	}
	return f, nil
}

// Load reads one word per line from path. A missing file yields an
// empty filter so censoring can be enabled before the list exists.
func Load(path string) (*Filter, error) {
	words, err := readWords(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(nil)
		}
		return nil, err
	}
	return New(words)
}

// Reload re-reads the word list from path and swaps it in.
func (f *Filter) Reload(path string) error {
	words, err := readWords(path)
	if err != nil {
		return err
	}
	return f.set(words)
}

// Apply returns text with every configured word masked.
func (f *Filter) Apply(text string) string {
	f.mu.RLock()
	re := f.pattern
	f.mu.RUnlock()
	if re == nil {
		return text
	}
	return re.ReplaceAllStringFunc(text, func(m string) string {
		return strings.Repeat("*", len(m))
	})
}

// Len reports how many words are loaded.
func (f *Filter) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.words
}

func (f *Filter) set(words []string) error {
	cleaned := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" || strings.HasPrefix(w, "#") {
			continue
		}
		cleaned = append(cleaned, regexp.QuoteMeta(strings.ToLower(w)))
	}
	if len(cleaned) == 0 {
		f.mu.Lock()
		f.pattern, f.words = nil, 0
		f.mu.Unlock()
		return nil
	}
	re, err := regexp.Compile(`(?i)\b(?:` + strings.Join(cleaned, "|") + `)\b`)
	if err != nil {
		return fmt.Errorf("compiling word filter: %w", err)
	}
	f.mu.Lock()
	f.pattern, f.words = re, len(cleaned)
	f.mu.Unlock()
	return nil
}

func readWords(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var words []string
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		words = append(words, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading word list %s: %w", path, err)
	}
	return words, nil
}
