// Package otp issues and checks the one-time passcodes that gate money
// movement. Codes are six ASCII digits; only their bcrypt hash is stored.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	Digits = 6
	TTL    = 10 * time.Minute
)

var codeSpace = big.NewInt(1_000_000)

// Gate hashes codes with a configurable bcrypt cost. The zero value uses
// bcrypt.DefaultCost.
type Gate struct {
	Cost int
}

// Challenge is a freshly issued code. Code must only leave the process
// through the out-of-band channel.
type Challenge struct {
	Code      string
	Hash      string
	ExpiresAt time.Time
}

// Issue generates a code valid until now+TTL.
func (g Gate) Issue(now time.Time) (Challenge, error) {
	code, err := Generate()
	if err != nil {
		return Challenge{}, err
	}
	hash, err := g.Hash(code)
	if err != nil {
		return Challenge{}, err
	}
	return Challenge{Code: code, Hash: hash, ExpiresAt: now.Add(TTL)}, nil
}

func (g Gate) Hash(code string) (string, error) {
	cost := g.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return "", fmt.Errorf("hash otp: %w", err)
	}
	return string(b), nil
}

// Generate returns a uniformly random zero-padded six digit code.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", Digits, n.Int64()), nil
}

// Expired reports whether a challenge expiring at exp is past at now.
func Expired(exp, now time.Time) bool {
	return now.After(exp)
}

// Match compares code against a stored hash in constant time. Malformed
// codes never match.
func Match(hash, code string) bool {
	if !WellFormed(code) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

// WellFormed reports whether code is exactly six ASCII digits.
func WellFormed(code string) bool {
	if len(code) != Digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
