package utils

// Token estimates use the 1 token ≈ 4 characters heuristic. They only need to
// be good enough to keep prompts inside a model's context window.

// CountTokens estimates the number of tokens in text. Non-empty text counts
// as at least one token.
func CountTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	tokens := len([]rune(text)) / 4
	if tokens == 0 {
		return 1
	}
	return tokens
}

// FitsTokens reports whether text is within limit tokens.
func FitsTokens(text string, limit int) bool {
	return CountTokens(text) <= limit
}

// TruncateToTokenLimit truncates text to roughly fit within a token limit.
func TruncateToTokenLimit(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	charLimit := limit * 4
	if charLimit >= len(runes) {
		return text
	}
	return string(runes[:charLimit])
}
