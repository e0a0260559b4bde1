// internal/relay/token.go
package relay

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"eightsync/internal/config"
)

// privateKey and publicKey sign and verify join tokens. The relay holds no
// accounts; a token only proves that its bearer went through the join
// endpoint (and knew the passcode, if the room has one).
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	tokenTTL time.Duration
)

// InitKeys generates a fresh ed25519 key pair at startup. Tokens do not
// survive a relay restart, which is fine: neither do rooms.
func InitKeys() error {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("generate ed25519 key pair: %w", err)
	}
	tokenTTL = config.EnvDuration("RELAY_TOKEN_TTL", time.Hour)
	return nil
}

// IssueJoinToken signs a token granting one peer entry to one room.
func IssueJoinToken(roomID, peerID uuid.UUID) (string, error) {
	claims := jwt.MapClaims{
		"sub":  peerID.String(),
		"room": roomID.String(),
		"exp":  time.Now().Add(tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// VerifyJoinToken checks a token and returns the room and peer it names.
func VerifyJoinToken(tokenString string) (roomID, peerID uuid.UUID, err error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid jwt claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return uuid.Nil, uuid.Nil, fmt.Errorf("missing sub in jwt")
	}
	room, ok := claims["room"].(string)
	if !ok {
		return uuid.Nil, uuid.Nil, fmt.Errorf("missing room in jwt")
	}

	peerID, err = uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("bad sub: %w", err)
	}
	roomID, err = uuid.Parse(room)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("bad room: %w", err)
	}
	return roomID, peerID, nil
}
