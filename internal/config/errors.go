package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrEmptyAddress is returned when Tor is enabled without a proxy host.
	ErrEmptyAddress = errors.New("invalid address: must not be empty")

	// ErrInvalidPort is returned when the SOCKS port is outside 1-65535.
	ErrInvalidPort = errors.New("invalid port: must be between 1 and 65535")

	// ErrInvalidControlPort is returned when the control port is outside 1-65535.
	ErrInvalidControlPort = errors.New("invalid control port: must be between 1 and 65535")

	// ErrInvalidCircuitBuildTimeout is returned when the circuit build timeout is not positive.
	ErrInvalidCircuitBuildTimeout = errors.New("invalid circuit build timeout: must be positive")

	// ErrInvalidProbeURL is returned when the probe URL is not an absolute http(s) URL.
	ErrInvalidProbeURL = errors.New("invalid probe URL: must be an absolute http or https URL")

	// ErrInvalidCount is returned when the rotation count is not positive.
	ErrInvalidCount = errors.New("invalid count: must be positive")

	// ErrInvalidInterval is returned when the interval between rotations is negative.
	ErrInvalidInterval = errors.New("invalid interval: must be non-negative")

	// ErrInvalidParallel is returned when the number of parallel proxies is not positive.
	ErrInvalidParallel = errors.New("invalid parallel: must be positive")

	// ErrInvalidTorStartupTimeout is returned when the embedded Tor startup timeout is not positive.
	ErrInvalidTorStartupTimeout = errors.New("invalid tor startup timeout: must be positive")
)
