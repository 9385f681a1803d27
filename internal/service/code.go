package service

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	// ReferralCodePrefix starts every generated referral code.
	ReferralCodePrefix = "REF-"

	codeLength      = 9
	codeAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	maxCodeAttempts = 5
)

// GenerateReferralCode returns "REF-" followed by nine characters drawn
// uniformly from an alphabet without the look-alikes I, O, 0 and 1.
func GenerateReferralCode() (string, error) {
	var b strings.Builder
	b.Grow(len(ReferralCodePrefix) + codeLength)
	b.WriteString(ReferralCodePrefix)
	for i := 0; i < codeLength; i++ {
		idx, err := cryptoRandInt(len(codeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[idx])
	}
	return b.String(), nil
}

// BuildShareableLink joins the share base URL and a referral code.
func BuildShareableLink(baseURL, code string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + code
}

// cryptoRandInt returns a cryptographically secure random integer in [0, max).
func cryptoRandInt(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
