package feishu

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf16"
)

// The platform measures message length in UTF-16 code units. maxChunkLen
// stays below the hard limit with room for the multi-part footer.
const (
	maxChunkLen   = 4000
	footerReserve = 32
)

// UTF16Len returns the number of UTF-16 code units in text. Characters
// outside the BMP (most emoji) encode as a surrogate pair and count twice,
// so a rune count would undercount what the platform enforces.
func UTF16Len(text string) int {
	n := 0
	for _, r := range text {
		n += utf16.RuneLen(r)
	}
	return n
}

// SplitChunks splits text into chunks of at most maxLen UTF-16 code units,
// preferring line boundaries. A single line longer than maxLen is
// hard-split as a last resort. Always returns at least one element.
func SplitChunks(text string, maxLen int) []string {
	var chunks []string
	var chunkLines []string
	chunkUnits := 0

	for _, line := range strings.Split(text, "\n") {
		subLines := []string{line}
		if UTF16Len(line) > maxLen {
			subLines = hardSplit(line, maxLen)
		}

		for _, sub := range subLines {
			// +1 for the newline join re-adds; '\n' is one UTF-16 unit
			needed := UTF16Len(sub)
			if len(chunkLines) > 0 {
				needed++
			}

			if len(chunkLines) > 0 && chunkUnits+needed > maxLen {
				chunks = append(chunks, strings.Join(chunkLines, "\n"))
				chunkLines = []string{sub}
				chunkUnits = UTF16Len(sub)
			} else {
				chunkLines = append(chunkLines, sub)
				chunkUnits += needed
			}
		}
	}

	if len(chunkLines) > 0 {
		chunks = append(chunks, strings.Join(chunkLines, "\n"))
	}
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	return chunks
}

// hardSplit cuts an overlong line at rune boundaries by UTF-16 budget
func hardSplit(line string, maxLen int) []string {
	var parts []string
	var b strings.Builder
	units := 0

	for _, r := range line {
		rl := utf16.RuneLen(r)
		if units+rl > maxLen && b.Len() > 0 {
			parts = append(parts, b.String())
			b.Reset()
			units = 0
		}
		b.WriteRune(r)
		units += rl
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}
	return parts
}

// Publish sends text to a chat, splitting into multiple messages when the
// platform limit requires it. Multi-part sends get a part footer so readers
// can tell the pieces apart.
func (c *Client) Publish(ctx context.Context, chatID, text string) error {
	chunks := SplitChunks(text, maxChunkLen-footerReserve)

	if len(chunks) == 1 {
		return c.SendText(ctx, chatID, text)
	}

	total := len(chunks)
	for i, chunk := range chunks {
		footer := fmt.Sprintf("\n— message %d of %d —", i+1, total)
		if err := c.SendText(ctx, chatID, chunk+footer); err != nil {
			return fmt.Errorf("send part %d of %d: %w", i+1, total, err)
		}
	}
	return nil
}
