package checks

import "errors"

var (
	// ErrResolve is terminal for a job: it goes straight to reporting.
	ErrResolve = errors.New("dns resolution failed")

	// ErrPingUnparsable and ErrPingZeroTransmitted leave reachability unknown.
	// Neither stops the pipeline.
	ErrPingUnparsable      = errors.New("ping output has no packet counts")
	ErrPingZeroTransmitted = errors.New("ping transmitted zero packets")

	ErrUnknownProtocol = errors.New("unknown service protocol")
)
