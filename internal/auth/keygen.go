package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// Generated gateway token format: gw_{env}_{secret}
// Example: gw_live_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b
const TokenSecretLen = 64 // hex encoded 32 bytes

// Environment indicators for the token prefix.
const (
	EnvLive = "live"
	EnvTest = "test"
)

var (
	// ErrInvalidTokenFormat indicates a token was not produced by GenerateGatewayToken.
	ErrInvalidTokenFormat = errors.New("invalid gateway token format")

	tokenFormatRegex = regexp.MustCompile(`^gw_(live|test)_([a-f0-9]{64})$`)
)

// GeneratedToken is a fresh gateway token and the hash to configure as
// GATEWAY_TOKEN_HASH.
type GeneratedToken struct {
	Plaintext string // give to the gateway, never stored
	Hash      string // Argon2id PHC string
}

// GenerateGatewayToken creates a random gateway token for env.
// Unknown environments fall back to live.
func GenerateGatewayToken(env string) (*GeneratedToken, error) {
	if env != EnvLive && env != EnvTest {
		env = EnvLive
	}

	secretBytes := make([]byte, TokenSecretLen/2)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	plaintext := fmt.Sprintf("gw_%s_%s", env, hex.EncodeToString(secretBytes))

	hash, err := HashToken(plaintext)
	if err != nil {
		return nil, fmt.Errorf("hash token: %w", err)
	}

	return &GeneratedToken{Plaintext: plaintext, Hash: hash}, nil
}

// TokenEnv returns the environment encoded in a generated token.
func TokenEnv(token string) (string, error) {
	matches := tokenFormatRegex.FindStringSubmatch(token)
	if matches == nil {
		return "", ErrInvalidTokenFormat
	}
	return matches[1], nil
}

// ValidateTokenFormat checks if token matches the generated format.
func ValidateTokenFormat(token string) bool {
	return tokenFormatRegex.MatchString(token)
}
