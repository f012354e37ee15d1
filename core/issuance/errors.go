package issuance

import "errors"

var (
	// ErrOrderInvalid is returned when the CA marks the order invalid during
	// validation. Fatal to the domain's run; the batch continues.
	ErrOrderInvalid = errors.New("certificate order is invalid")

	// ErrPollTimeout is returned when a polling phase reaches its deadline
	// before the CA progressed the order.
	ErrPollTimeout = errors.New("polling deadline exceeded")
)
