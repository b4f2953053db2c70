// Package chunker splits reply text into bounded, paragraph and word aware segments.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxLength is used when a non-positive limit is supplied.
const DefaultMaxLength = 300

// Separators Split breaks on, from strongest to weakest. A break consumes
// the separator it falls on.
const (
	ParagraphSeparator = "\n\n"
	LineSeparator      = "\n"
	WordSeparator      = " "
)

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)

// Split breaks text into chunks of at most maxLen characters (runes).
// Paragraphs are kept whole when they fit. A longer paragraph is packed line
// by line, keeping its line breaks; a line that cannot fit in any chunk is
// packed word by word, and a single word longer than maxLen is hard-cut.
// Empty chunks are never returned.
func Split(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}

	var chunks []string
	for _, paragraph := range paragraphBreak.Split(text, -1) {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		if utf8.RuneCountInString(paragraph) <= maxLen {
			chunks = append(chunks, paragraph)
			continue
		}
		chunks = append(chunks, splitLines(paragraph, maxLen)...)
	}
	return chunks
}

func splitLines(paragraph string, maxLen int) []string {
	p := &packer{maxLen: maxLen}
	for _, line := range strings.Split(paragraph, LineSeparator) {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if utf8.RuneCountInString(line) <= maxLen {
			p.add(LineSeparator, line)
			continue
		}
		for i, word := range strings.Fields(line) {
			sep := WordSeparator
			if i == 0 {
				sep = LineSeparator
			}
			p.add(sep, word)
		}
	}
	p.flush()
	return p.chunks
}

// packer greedily joins tokens into chunks of at most maxLen runes.
type packer struct {
	maxLen  int
	chunks  []string
	current strings.Builder
	size    int
}

// add appends token after sep, or starts a new chunk with token when the
// running chunk has no room for both.
func (p *packer) add(sep, token string) {
	tokenLen := utf8.RuneCountInString(token)
	if tokenLen > p.maxLen {
		p.flush()
		pieces := hardCut(token, p.maxLen)
		p.chunks = append(p.chunks, pieces[:len(pieces)-1]...)
		last := pieces[len(pieces)-1]
		p.current.WriteString(last)
		p.size = utf8.RuneCountInString(last)
		return
	}

	sepLen := utf8.RuneCountInString(sep)
	if p.size > 0 && p.size+sepLen+tokenLen > p.maxLen {
		p.flush()
	}
	if p.size > 0 {
		p.current.WriteString(sep)
		p.size += sepLen
	}
	p.current.WriteString(token)
	p.size += tokenLen
}

func (p *packer) flush() {
	if p.size > 0 {
		p.chunks = append(p.chunks, p.current.String())
	}
	p.current.Reset()
	p.size = 0
}

// hardCut slices word into rune-aligned pieces of at most maxLen runes.
func hardCut(word string, maxLen int) []string {
	runes := []rune(word)
	pieces := make([]string, 0, len(runes)/maxLen+1)
	for start := 0; start < len(runes); start += maxLen {
		end := start + maxLen
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}
