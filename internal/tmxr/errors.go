package tmxr

import "errors"

// ErrBadArg is wrapped by Configure and SetConnectOrder when an operator
// token fails to parse or falls outside its valid range.
var ErrBadArg = errors.New("tmxr: bad argument")

// ErrOpen is wrapped by Configure when the listening socket cannot be
// opened.
var ErrOpen = errors.New("tmxr: open failed")
