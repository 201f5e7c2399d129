package consensus

import (
	"fmt"

	"exam-session-service/internal/domain"
)

// Option letters are purely an external representation; everything
// internal is keyed by integer index and translated at the boundary.

// IndexToLetter maps option index 0..25 to "A".."Z".
func IndexToLetter(i int) (string, error) {
	if i < 0 || i > 25 {
		return "", fmt.Errorf("%w: %d", domain.ErrInvalidOption, i)
	}
	return string(rune('A' + i)), nil
}

// LetterToIndex is the inverse of IndexToLetter.
func LetterToIndex(letter string) (int, error) {
	if len(letter) != 1 || letter[0] < 'A' || letter[0] > 'Z' {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidOption, letter)
	}
	return int(letter[0] - 'A'), nil
}
