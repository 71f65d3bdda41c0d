package player

import "errors"

var (
	// ErrNoBinary indicates no player binary was configured.
	ErrNoBinary = errors.New("player: no binary configured")

	// ErrNoURL indicates Play was called without a stream URL.
	ErrNoURL = errors.New("player: stream url required")

	// ErrInvalidVolume indicates a volume outside 0-100.
	ErrInvalidVolume = errors.New("player: volume must be between 0 and 100")
)
