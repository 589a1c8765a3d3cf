package telegram

import "strings"

// chunkMessage splits text into pieces no longer than maxLen so each
// fits in a single Telegram message. When a chunk would fall in the
// middle of a line the split moves back to the last newline, as long
// as that still leaves the chunk more than half full.
func chunkMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > maxLen {
		cut := maxLen
		if nl := strings.LastIndexByte(text[:maxLen], '\n'); nl > maxLen/2 {
			cut = nl + 1
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return append(chunks, text)
}
