package persona

import (
	"math/rand"
	"strings"
)

// keyboardRows is the layout used to pick plausible fat-finger neighbors.
var keyboardRows = []string{"qwertyuiop", "asdfghjkl", "zxcvbnm"}

// adjacentKeys maps each key to its physical neighbors on the board:
// left, right, above, below.
func adjacentKeys(rows []string) map[rune][]rune {
	m := make(map[rune][]rune)

	for r, row := range rows {
		chars := []rune(row)
		for i, ch := range chars {
			var adj []rune
			if i > 0 {
				adj = append(adj, chars[i-1])
			}
			if i < len(chars)-1 {
				adj = append(adj, chars[i+1])
			}
			if r > 0 && i < len(rows[r-1]) {
				adj = append(adj, []rune(rows[r-1])[i])
			}
			if r < len(rows)-1 && i < len(rows[r+1]) {
				adj = append(adj, []rune(rows[r+1])[i])
			}
			m[ch] = adj
		}
	}
	return m
}

// addTypo inserts one adjacent-key character at a random position,
// imitating a fat-fingered keystroke. When the picked character has no
// neighbors on the board (digits, punctuation) the text comes back
// unchanged.
func addTypo(text string, rng *rand.Rand) string {
	runes := []rune(text)
	if len(runes) == 0 {
		return text
	}

	index := rng.Intn(len(runes))
	ch := runes[index]

	adj := adjacentKeys(keyboardRows)[toLowerRune(ch)]
	if len(adj) == 0 {
		return text
	}

	extra := adj[rng.Intn(len(adj))]

	var sb strings.Builder
	sb.WriteString(string(runes[:index]))
	sb.WriteRune(extra)
	sb.WriteString(string(runes[index:]))
	return sb.String()
}

func toLowerRune(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
