package app

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	instancePrefix   = "sbd-"
	instanceAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	instanceLength   = 10
)

// newInstanceID returns a random id tagging every log line of one daemon generation.
// Params: none.
// Returns: id such as "sbd-k3x9q0v2ma" or generator error.
func newInstanceID() (string, error) {
	id, err := nanoid.Generate(instanceAlphabet, instanceLength)
	if err != nil {
		return "", fmt.Errorf("generate instance id: %w", err)
	}
	return instancePrefix + id, nil
}
