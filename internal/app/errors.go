package app

import (
	"errors"

	"marketplace-client/internal/api"
)

// IsAuthError reports whether err should be shown inline as bad input or
// credentials rather than as a generic failure.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		return true
	}
	return api.KindOf(err) == api.KindAuth
}
