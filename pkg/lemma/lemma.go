// Package lemma provides the pluggable lemma-name extraction collaborator.
// A grammar-aware parser for theory files is out of scope; Extractor is the
// seam the expander calls through, and regexExtractor is a line-oriented
// stand-in sufficient for well-formed theory files.
package lemma

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
)

// Extractor returns the names of lemmas defined in a theory file.
type Extractor interface {
	ExtractLemmas(theoryFile string) ([]string, error)
}

var lemmaLine = regexp.MustCompile(`^\s*lemma\s+([A-Za-z_][A-Za-z0-9_]*)\s*(?:\[[^\]]*\])?\s*:`)

// RegexExtractor is the default Extractor: it scans the theory file
// line by line for `lemma NAME:` or `lemma NAME [annotation]:` declarations.
type RegexExtractor struct{}

// NewRegexExtractor returns the default Extractor implementation.
func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{}
}

// ExtractLemmas implements Extractor.
func (RegexExtractor) ExtractLemmas(theoryFile string) ([]string, error) {
	f, err := os.Open(theoryFile)
	if err != nil {
		return nil, fmt.Errorf("opening theory file %s: %w", theoryFile, err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if m := lemmaLine.FindStringSubmatch(scanner.Text()); m != nil {
			names = append(names, m[1])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning theory file %s: %w", theoryFile, err)
	}
	return names, nil
}
