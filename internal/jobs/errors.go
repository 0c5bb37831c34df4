package jobs

import "errors"

// ErrValidation marks a malformed submission. It is rejected before any
// job record or side effect is created.
var ErrValidation = errors.New("invalid submission")
