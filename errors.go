package vitalsig

import "errors"

var (
	ErrEmptySignal       = errors.New("signal is empty")
	ErrInvalidRate       = errors.New("sample rate must be positive")
	ErrSignalTooShort    = errors.New("signal too short")
	ErrConstantSignal    = errors.New("signal has zero variance")
	ErrTooFewPeaks       = errors.New("fewer than two R-peaks detected")
	ErrBeatOutOfRange    = errors.New("beat index out of range")
	ErrNoQualifyingRun   = errors.New("no qualifying run of beats")
	ErrInsufficientBeats = errors.New("not enough beats after trigger")
	ErrDivisionByZero    = errors.New("division by zero")
	ErrInvalidInterval   = errors.New("interval must be positive and finite")
	ErrNoPulsePairs      = errors.New("no R-peak/pulse pairs found")
	ErrUndefinedEntropy  = errors.New("sample entropy undefined")
)
