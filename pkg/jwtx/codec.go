package jwtx

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLen is the minimum HMAC key size accepted by NewHMACCodec.
const MinSecretLen = 32

// HMACCodec signs and verifies compact header.payload.signature tokens with
// HS256. The secret is fixed at construction and never re-read.
type HMACCodec struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewHMACCodec validates secret once. Callers treat an error as fatal.
func NewHMACCodec(secret []byte, issuer string) (*HMACCodec, error) {
	switch {
	case len(secret) == 0:
		return nil, ErrSecretMissing
	case len(secret) < MinSecretLen:
		return nil, fmt.Errorf("%w: got %d", ErrSecretTooShort, len(secret))
	}

	return &HMACCodec{
		secret: append([]byte(nil), secret...),
		issuer: issuer,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithStrictDecoding(),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

func (c *HMACCodec) Alg() string    { return jwt.SigningMethodHS256.Alg() }
func (c *HMACCodec) Issuer() string { return c.issuer }

// Sign encodes claims and appends the MAC over header and payload.
func (c *HMACCodec) Sign(claims Claims) (string, error) {
	if !claims.Type.Valid() {
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidClaim, claims.Type)
	}
	if claims.Issuer == "" {
		claims.Issuer = c.issuer
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	s, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign: %w", err)
	}
	return s, nil
}

// Verify checks structure and signature and returns the decoded claims.
// Time based claims are left to the caller so it can use its own clock.
func (c *HMACCodec) Verify(token string) (Claims, error) {
	if strings.Count(token, ".") != 2 {
		return Claims{}, ErrMalformed
	}

	var claims Claims
	_, err := c.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return Claims{}, c.classify(token, err)
	}

	if err := claims.ValidateIssuer(c.issuer); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

// classify maps parser failures onto our sentinels. A token whose header
// and payload decode but whose signature segment does not is reported as a
// signature failure, not as malformed.
func (c *HMACCodec) classify(token string, err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSig
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		// alg not in the allow list
		return ErrInvalidSig
	case errors.Is(err, jwt.ErrTokenMalformed):
		var probe Claims
		if _, _, perr := c.parser.ParseUnverified(token, &probe); perr == nil {
			return ErrInvalidSig
		}
		return ErrMalformed
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
