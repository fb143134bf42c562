// Package errors provides structured error handling for lab oracles and runs.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Oracle errors
	CodeOracleUnavailable     Code = "ORACLE_UNAVAILABLE"
	CodeInvalidOracleResponse Code = "INVALID_ORACLE_RESPONSE"

	// Run errors
	CodeRunNotFinished Code = "RUN_NOT_FINISHED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// UserFacing reports whether messages carrying this code may be shown to the
// learner verbatim.
func (c Code) UserFacing() bool {
	switch c {
	case CodeOracleUnavailable,
		CodeInvalidOracleResponse,
		CodeRunNotFinished,
		CodeNotFound:
		return true
	default:
		return false
	}
}
