package ai

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

type segment struct {
	reasoning bool
	text      string
}

// thinkSplitter separates <think> spans from answer text across chunk
// boundaries. A trailing fragment that may start a tag is held back.
type thinkSplitter struct {
	inside  bool
	pending string
}

func (s *thinkSplitter) Push(chunk string) []segment {
	s.pending += chunk

	var out []segment
	for {
		tag := thinkOpen
		if s.inside {
			tag = thinkClose
		}

		if i := strings.Index(s.pending, tag); i >= 0 {
			out = appendSegment(out, s.inside, s.pending[:i])
			s.pending = s.pending[i+len(tag):]
			s.inside = !s.inside
			continue
		}

		keep := partialTag(s.pending, tag)
		out = appendSegment(out, s.inside, s.pending[:len(s.pending)-keep])
		s.pending = s.pending[len(s.pending)-keep:]
		return out
	}
}

func (s *thinkSplitter) Flush() []segment {
	out := appendSegment(nil, s.inside, s.pending)
	s.pending = ""
	return out
}

func appendSegment(out []segment, reasoning bool, text string) []segment {
	if text == "" {
		return out
	}
	return append(out, segment{reasoning: reasoning, text: text})
}

// partialTag returns the length of the longest suffix of s that is a proper
// prefix of tag.
func partialTag(s, tag string) int {
	n := len(tag) - 1
	if len(s) < n {
		n = len(s)
	}
	for ; n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
