package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

const fallbackEncoding = "cl100k_base"

// Tokenizer counts and trims prompt history in model tokens. It satisfies
// TokenCounter.
type Tokenizer struct {
	enc      *tiktoken.Tiktoken
	encoding string
}

// NewTokenizer picks the encoding tiktoken knows for model. Claude, Llama and
// other non-OpenAI models fall back to cl100k_base, which is close enough for
// budgeting chat history.
func NewTokenizer(model string) (*Tokenizer, error) {
	name := encodingName(model)
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: get encoding %s: %w", name, err)
	}
	return &Tokenizer{enc: enc, encoding: name}, nil
}

func encodingName(model string) string {
	if name, ok := tiktoken.MODEL_TO_ENCODING[model]; ok {
		return name
	}
	for prefix, name := range tiktoken.MODEL_PREFIX_TO_ENCODING {
		if strings.HasPrefix(model, prefix) {
			return name
		}
	}
	return fallbackEncoding
}

// Encoding names the tiktoken encoding in use.
func (t *Tokenizer) Encoding() string { return t.encoding }

// Count returns the approximate number of tokens in s.
func (t *Tokenizer) Count(s string) int {
	return len(t.enc.Encode(s, nil, nil))
}

// Truncate cuts s down to at most maxTokens tokens. A token boundary can fall
// inside a multi-byte character (common in CJK dish names), so any partial
// rune left at the end is dropped.
func (t *Tokenizer) Truncate(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	tokens := t.enc.Encode(s, nil, nil)
	if len(tokens) <= maxTokens {
		return s
	}
	return trimPartialRune(t.enc.Decode(tokens[:maxTokens]))
}

func trimPartialRune(s string) string {
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size > 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}
