package provider

import "errors"

var (
	ErrInvalidInput = errors.New("provider: invalid input")
	ErrNotFound     = errors.New("provider: not found")
	ErrOffline      = errors.New("provider: offline")
	ErrRateLimited  = errors.New("provider: rate limited")
	ErrTemporary    = errors.New("provider: temporary failure")
	ErrTimeout      = errors.New("provider: timeout")
)

func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }
func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsOffline(err error) bool      { return errors.Is(err, ErrOffline) }
func IsRateLimited(err error) bool  { return errors.Is(err, ErrRateLimited) }
func IsTemporary(err error) bool    { return errors.Is(err, ErrTemporary) }
func IsTimeout(err error) bool      { return errors.Is(err, ErrTimeout) }
