package pal

import "errors"

// ErrEmptySet is returned by MultiWait when called with no waitables.
var ErrEmptySet = errors.New("pal: empty wait set")
