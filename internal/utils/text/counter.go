// Package text provides rune-aware counting and truncation shared by
// the enrichment stage's embedding input builder and the summarizer
// clients. Both deal in character budgets (the embedding input cap, the
// summary length limit, the model prompt cap), and both must measure
// runes rather than bytes so multi-byte titles and transcripts aren't
// miscounted or cut mid-character.
package text

// CountRunes counts the number of Unicode characters (runes) in the given text.
// This function correctly handles multi-byte characters including Japanese, Chinese,
// emoji, and other Unicode characters by counting runes instead of bytes.
//
// Examples:
//
//	CountRunes("hello")          // returns 5 (ASCII text)
//	CountRunes("こんにちは")       // returns 5 (Japanese text)
//	CountRunes("hello世界")       // returns 7 (mixed text)
//	CountRunes("Hello👋")         // returns 6 (text with emoji)
//	CountRunes("")               // returns 0 (empty string)
func CountRunes(text string) int {
	return len([]rune(text))
}

// TruncateRunes returns text cut to at most max runes. Unlike a byte
// slice (text[:max]), it never splits a multi-byte character, so a
// truncated transcript or title remains valid UTF-8.
//
// Examples:
//
//	TruncateRunes("hello", 3)    // returns "hel"
//	TruncateRunes("こんにちは", 3) // returns "こんに"
//	TruncateRunes("hi", 10)      // returns "hi" (shorter than max)
func TruncateRunes(text string, max int) string {
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	return string(r[:max])
}
