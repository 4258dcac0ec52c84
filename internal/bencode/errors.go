package bencode

import "errors"

// ErrMalformed is the sentinel wrapped by every decode failure (spec.md §4.1,
// §7 MalformedBencode). Callers branch on it with errors.Is.
var ErrMalformed = errors.New("bencode: malformed input")
