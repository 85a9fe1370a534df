package chademo

import "errors"

var (
	ErrIllegalArgument = errors.New("error in function arguments")
	ErrTransport       = errors.New("transport error")
	ErrNoConnection    = errors.New("no active connection")
	ErrRxOverflow      = errors.New("receive buffer full, frame dropped")
)
