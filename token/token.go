package token

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/go-alone"
	"github.com/pkg/errors"
)

// ErrTokenExpired is returned when the given token's ttl in the past
var ErrTokenExpired = errors.New("token: token has expired")

// ErrInvalidToken is returned when the token has an invalid signature or is otherwise invalid
var ErrInvalidToken = errors.New("token: invalid token")

// Generator issues and verifies the api keys accepted by the dispatch endpoint
type Generator struct {
	s      *goalone.Sword
	maxAge time.Duration
	clock  func() time.Time
}

// NewGenerator takes a key and a max age for the token then returns a new token generator
func NewGenerator(k string, m time.Duration) *Generator {
	return &Generator{s: goalone.New([]byte(k)), maxAge: m, clock: time.Now}
}

// NewToken returns a signed client id valid for the generator's max age
func (tg *Generator) NewToken(clientID string) string {
	exp := tg.clock().Add(tg.maxAge).UTC().Unix()
	tk := fmt.Sprintf("%v.%v", clientID, exp)

	return string(tg.s.Sign([]byte(tk)))
}

// VerifyToken returns the client id from the given token or an error
func (tg *Generator) VerifyToken(t string) (string, error) {
	tByte, err := tg.s.Unsign([]byte(t))
	if err != nil {
		return "", ErrInvalidToken
	}

	// client ids may contain dots, the expiry is always last
	raw := string(tByte)
	i := strings.LastIndex(raw, ".")
	if i <= 0 {
		return "", ErrInvalidToken
	}

	tInt64, err := strconv.ParseInt(raw[i+1:], 10, 64)
	if err != nil {
		return "", errors.Wrap(ErrInvalidToken, err.Error())
	}

	if time.Unix(tInt64, 0).Before(tg.clock()) {
		return "", ErrTokenExpired
	}

	return raw[:i], nil
}
