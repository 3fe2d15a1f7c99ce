package jwtx

import "errors"

var (
	ErrMalformed    = errors.New("jwtx: malformed token")
	ErrInvalidSig   = errors.New("jwtx: invalid signature")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")

	ErrSecretMissing  = errors.New("jwtx: signing secret is not set")
	ErrSecretTooShort = errors.New("jwtx: signing secret must be at least 32 bytes")
)
