package connectors

import (
	"errors"
	"fmt"
)

// ErrOrderNotFound is returned by order lookups when the exchange has no
// record of the ticket or client order ID.
var ErrOrderNotFound = errors.New("order not found on exchange")

// RejectionError is a persistent refusal from the exchange: invalid symbol,
// insufficient balance, bad credentials. Retrying the same request can never
// succeed, so watchers treat it as terminal for the affected position.
type RejectionError struct {
	Code   int
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("exchange rejected request (code %d): %s", e.Code, e.Reason)
}

// IsRejection reports whether err is a persistent exchange refusal.
func IsRejection(err error) bool {
	var rejection *RejectionError
	return errors.As(err, &rejection)
}

// IsTransient reports whether err is worth retrying with backoff: anything
// that is neither a definite rejection nor a definite not-found, i.e.
// network failures, timeouts, rate limits and 5xx-class venue trouble.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !IsRejection(err) && !errors.Is(err, ErrOrderNotFound)
}
