package ai

import (
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`\S+\s+`)

// wordChunker regroups arbitrary model chunks into word-sized pieces. A piece
// is released once the whitespace after a word has arrived.
type wordChunker struct {
	buf strings.Builder
}

func (c *wordChunker) Push(text string) []string {
	c.buf.WriteString(text)
	pending := c.buf.String()

	var words []string
	for {
		loc := wordPattern.FindStringIndex(pending)
		if loc == nil {
			break
		}
		words = append(words, pending[:loc[1]])
		pending = pending[loc[1]:]
	}

	c.buf.Reset()
	c.buf.WriteString(pending)
	return words
}

// Flush releases whatever is buffered.
func (c *wordChunker) Flush() string {
	rest := c.buf.String()
	c.buf.Reset()
	return rest
}
