package channel

import "unicode/utf16"

// splitMessage cuts msg into chunks of at most maxLen UTF-16 code units, the
// unit Telegram measures message length in. It prefers to break after a
// newline in the second half of a chunk and never splits a rune.
func splitMessage(msg string, maxLen int) []string {
	if utf16Len(msg) <= maxLen {
		return []string{msg}
	}

	runes := []rune(msg)
	var chunks []string
	for len(runes) > 0 {
		n, units := 0, 0
		for n < len(runes) {
			w := runeUnits(runes[n])
			if units+w > maxLen {
				break
			}
			units += w
			n++
		}
		if n == len(runes) {
			chunks = append(chunks, string(runes))
			break
		}
		if n == 0 {
			n = 1
		}
		cut := n
		for i := n - 1; i > n/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}

// utf16Len reports the length of s in UTF-16 code units.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeUnits(r)
	}
	return n
}

func runeUnits(r rune) int {
	if w := utf16.RuneLen(r); w > 0 {
		return w
	}
	return 1 // invalid runes are sent as U+FFFD
}
