package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/pkg/jwtx"
)

var (
	ErrTokenRevoked      = errors.New("token_revoked")
	ErrRefreshRotated    = errors.New("refresh_token_revoked_or_rotated")
	ErrWrongTokenType    = errors.New("wrong_token_type")
	ErrUserNotFound      = errors.New("user_not_found")
	ErrAdminAccessDenied = errors.New("admin_access_denied")

	// ErrAuthenticationFailed is the only verification outcome a client
	// ever sees. The specific reason is logged.
	ErrAuthenticationFailed = errors.New("authentication_failed")

	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrEmailTaken         = errors.New("email_taken")
	ErrInvalidInput       = errors.New("invalid_input")
	ErrUnknownRole        = errors.New("unknown_role")
)

// RateLimitedError is returned when the limiter denies a call. It carries
// the limiter state so transports can emit retry headers.
type RateLimitedError struct {
	Action string
	Result RateLimitResult
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate_limited: %s until %s", e.Action, e.Result.RetryAt().Format(time.RFC3339))
}

// IsTokenFailure reports whether err is one of the expected ways a
// presented token can be rejected, as opposed to an infrastructure fault.
func IsTokenFailure(err error) bool {
	for _, target := range []error{
		jwtx.ErrMalformed,
		jwtx.ErrInvalidSig,
		jwtx.ErrExpired,
		jwtx.ErrIssuer,
		jwtx.ErrInvalidClaim,
		ErrTokenRevoked,
		ErrRefreshRotated,
		ErrWrongTokenType,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
