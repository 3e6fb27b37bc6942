package pkg

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// roomCodeLimit keeps room codes short enough to type by hand.
const roomCodeLimit = 100000000

// GenerateRoomID - generates a numeric room code. Callers check it against the store before use.
func GenerateRoomID() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(roomCodeLimit))
	if err != nil {
		return "", fmt.Errorf("failed to generate room id: %w", err)
	}

	return n.String(), nil
}

// GenerateConnID - generates an opaque connection identifier.
func GenerateConnID() string {
	return uuid.NewString()
}
