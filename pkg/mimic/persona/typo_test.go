package persona

import (
	"math/rand"
	"strings"
	"testing"
)

func TestAddTypoInsertsAdjacentKey(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 100; i++ {
		original := "hello there how are you"
		typed := addTypo(original, rng)

		if len(typed) != len(original) && len(typed) != len(original)+1 {
			t.Fatalf("typo changed length from %d to %d", len(original), len(typed))
		}
		if len(typed) == len(original)+1 && !isInsertionOf(original, typed) {
			t.Fatalf("%q is not a single insertion into %q", typed, original)
		}
	}
}

func TestAddTypoEmptyString(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if got := addTypo("", rng); got != "" {
		t.Fatalf("addTypo(\"\") = %q", got)
	}
}

func TestAddTypoNonKeyboardCharsUnchanged(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	// No character here has a keyboard neighbor.
	if got := addTypo("12345", rng); got != "12345" {
		t.Fatalf("addTypo over digits = %q", got)
	}
}

func TestAdjacentKeysSymmetry(t *testing.T) {
	m := adjacentKeys(keyboardRows)

	for key, neighbors := range m {
		for _, n := range neighbors {
			if !contains(m[n], key) {
				t.Errorf("adjacency not symmetric: %c lists %c but not vice versa", key, n)
			}
		}
	}
}

// isInsertionOf reports whether longer equals shorter with exactly one
// extra character inserted somewhere.
func isInsertionOf(shorter, longer string) bool {
	for i := 0; i <= len(shorter); i++ {
		candidate := longer[:i] + longer[i+1:]
		if candidate == shorter {
			return true
		}
	}
	return false
}

func contains(runes []rune, r rune) bool {
	return strings.ContainsRune(string(runes), r)
}
