package notary

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

var ErrExpired = errors.New("expired")
var ErrInvalid = errors.New("invalid")

// ErrWrongPurpose is returned when a valid token was signed for another use
var ErrWrongPurpose = errors.New("wrong purpose")

// PurposeClick marks tokens carried by tracked newsletter links
const PurposeClick = "click"

type Notary struct {
	SigningKey string
	Clock      func() time.Time
}

func New(signingKey string) *Notary {
	return &Notary{SigningKey: signingKey, Clock: time.Now}
}

type purposeInfo struct {
	Purpose string `json:"__purpose"`
}

var Iss = "radar"

// Sign produces a JWT with the payload and purpose encoded. Valid until the unix time ttl
func (c *Notary) Sign(purpose string, payload interface{}, ttl int64) (string, error) {
	jwtClaims := &jwt.Claims{
		Issuer:   Iss,
		Expiry:   jwt.NewNumericDate(time.Unix(ttl, 0)),
		IssuedAt: jwt.NewNumericDate(c.Clock()),
	}

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.HS256,
		Key:       []byte(c.SigningKey),
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}

	return jwt.Signed(signer).Claims(jwtClaims).Claims(purposeInfo{Purpose: purpose}).Claims(payload).CompactSerialize()
}

// Verify checks the signature, expiry and purpose of signed and decodes its payload into out
func (c *Notary) Verify(purpose, signed string, out interface{}) error {
	tok, err := jwt.ParseSigned(signed)
	if err != nil {
		return fmt.Errorf("failed to parse token: %w", err)
	}

	var jwtClaims jwt.Claims
	var p purposeInfo
	if err := tok.Claims([]byte(c.SigningKey), &jwtClaims, &p, out); err != nil {
		if err == jose.ErrCryptoFailure {
			return ErrInvalid
		}
		return fmt.Errorf("failed to get token claims: %w", err)
	}

	err = jwtClaims.ValidateWithLeeway(jwt.Expected{
		Issuer: Iss,
		Time:   c.Clock(),
	}, 0)
	if err != nil {
		if err == jwt.ErrExpired {
			return ErrExpired
		}
		return fmt.Errorf("failed to validate token claims: %w", err)
	}

	if p.Purpose != purpose {
		return ErrWrongPurpose
	}

	return nil
}

// Click identifies the send behind a tracked link and where it points to
type Click struct {
	EditionID      string `json:"nid"`
	SendID         string `json:"env"`
	RecipientID    string `json:"uid"`
	SubscriptionID string `json:"sub,omitempty"`
	URL            string `json:"url"`
}

// SignClick signs a click payload valid for ttl from now
func (c *Notary) SignClick(click Click, ttl time.Duration) (string, error) {
	return c.Sign(PurposeClick, click, c.Clock().Add(ttl).Unix())
}

// VerifyClick returns the payload of a click token
func (c *Notary) VerifyClick(signed string) (Click, error) {
	var click Click
	if err := c.Verify(PurposeClick, signed, &click); err != nil {
		return Click{}, err
	}
	return click, nil
}
