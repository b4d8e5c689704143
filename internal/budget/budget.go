// Package budget provides token budget estimation and context trimming for the
// model-backed answer backend. Because several LLM backends with different
// tokenizers are supported, this package uses a conservative character-based
// heuristic: 1 token ≈ 4 bytes. Arabic text is two bytes per letter, so its
// estimates run high, which leaves headroom for model-specific overhead.
package budget

import (
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the conservative byte-to-token ratio used for
	// estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// It fits within 8k-context models (Llama 3 8B, GPT-3.5) while leaving
	// room for the output.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimChunks drops the lowest-ranked chunks (from the end of chunks) until
// fixed plus the remaining chunks fit within maxTokens. separatorTokens is the
// estimated cost of the separator placed between two chunks. When even the
// top-ranked chunk alone does not fit, it is truncated to the remaining
// budget rather than dropped, so the answer still has some context.
//
// fixed holds the messages that are never trimmed (system prompt, question).
// The returned slice is nil only when chunks is empty or fixed alone exhausts
// the budget.
func TrimChunks(fixed []*schema.Message, chunks []string, separatorTokens, maxTokens int) []string {
	if len(chunks) == 0 {
		return chunks
	}

	remaining := maxTokens - EstimateMessages(fixed)
	if remaining <= 0 {
		return nil
	}

	cost := func(cs []string) int {
		total := 0
		for i, c := range cs {
			if i > 0 {
				total += separatorTokens
			}
			total += Estimate(c)
		}
		return total
	}

	for len(chunks) > 1 && cost(chunks) > remaining {
		chunks = chunks[:len(chunks)-1]
	}
	if cost(chunks) <= remaining {
		return chunks
	}
	return []string{truncate(chunks[0], remaining*charsPerToken)}
}

// truncate cuts s to at most maxBytes bytes without splitting a UTF-8 rune.
func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
