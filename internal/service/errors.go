package service

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the closed set of client-recoverable failure kinds. Anything not
// in this set is an internal fault and surfaces as a generic 500.
type Code string

const (
	CodeInvalidCredentials         Code = "INVALID_CREDENTIALS"
	CodeAccountInactive            Code = "ACCOUNT_INACTIVE"
	CodeAccountLocked              Code = "ACCOUNT_LOCKED"
	CodeDeviceVerificationRequired Code = "DEVICE_VERIFICATION_REQUIRED"
	CodeTwoFactorRequired          Code = "TWO_FACTOR_REQUIRED"
	CodeInvalidTwoFactorCode       Code = "INVALID_2FA_CODE"

	CodeTokenExpired          Code = "TOKEN_EXPIRED"
	CodeInvalidToken          Code = "INVALID_TOKEN"
	CodeInvalidTokenType      Code = "INVALID_TOKEN_TYPE"
	CodeTokenRevoked          Code = "TOKEN_REVOKED"
	CodeTokenGenerationFailed Code = "TOKEN_GENERATION_FAILED"

	CodeSessionNotFound   Code = "SESSION_NOT_FOUND"
	CodeSessionExpired    Code = "SESSION_EXPIRED"
	CodeSessionTerminated Code = "SESSION_TERMINATED"
	CodeDeviceMismatch    Code = "DEVICE_MISMATCH"

	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"
	CodeIPBlocked         Code = "IP_BLOCKED"
	CodeGeoRestricted     Code = "GEO_RESTRICTED"
	CodeSuspiciousLogin   Code = "SUSPICIOUS_LOGIN_LOCATION"

	CodeCSRFMissing    Code = "CSRF_MISSING"
	CodeCSRFInvalid    Code = "CSRF_INVALID"
	CodeCSRFIDMismatch Code = "CSRF_ID_MISMATCH"
	CodeCSRFExpired    Code = "CSRF_EXPIRED"
)

type AuthError struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func E(code Code, message string) *AuthError {
	return &AuthError{Code: code, Message: message}
}

func (e *AuthError) WithDetail(key string, value any) *AuthError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// AsAuthError unwraps err into the taxonomy, or reports that the failure is
// an internal fault.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func IsCode(err error, code Code) bool {
	ae, ok := AsAuthError(err)
	return ok && ae.Code == code
}

// HTTPStatus maps a taxonomy code onto the wire contract: 401 for auth,
// 403 for CSRF and geo/IP restriction, 429 for rate limiting.
func HTTPStatus(code Code) int {
	switch code {
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeCSRFMissing, CodeCSRFInvalid, CodeCSRFIDMismatch, CodeCSRFExpired,
		CodeIPBlocked, CodeGeoRestricted, CodeSuspiciousLogin:
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}
