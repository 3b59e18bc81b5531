package pricing

import "errors"

// ErrInvalidPrice is returned for price writes that cannot be stored.
var ErrInvalidPrice = errors.New("invalid price")
