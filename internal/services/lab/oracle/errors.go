package oracle

import (
	"context"
	"errors"

	apperrors "github.com/louisbranch/prepared.space/internal/platform/errors"
)

// Unavailable marks err as a provider or network failure.
func Unavailable(message string, cause error) error {
	return apperrors.Wrap(apperrors.CodeOracleUnavailable, message, cause)
}

// InvalidResponse marks err as a malformed provider response.
func InvalidResponse(message string, cause error) error {
	return apperrors.Wrap(apperrors.CodeInvalidOracleResponse, message, cause)
}

// Classify returns err unchanged when it already carries an oracle code and
// otherwise treats it as unavailability. Cancellation and deadlines are
// unavailability too.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	switch apperrors.GetCode(err) {
	case apperrors.CodeOracleUnavailable, apperrors.CodeInvalidOracleResponse:
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Unavailable("oracle timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return Unavailable("oracle call canceled", err)
	}
	return Unavailable("oracle call failed", err)
}

// IsUnavailable reports whether err is a provider or network failure.
func IsUnavailable(err error) bool {
	return apperrors.HasCode(err, apperrors.CodeOracleUnavailable)
}

// IsInvalidResponse reports whether err is a malformed provider response.
func IsInvalidResponse(err error) bool {
	return apperrors.HasCode(err, apperrors.CodeInvalidOracleResponse)
}
