package rewind

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type (
	// Config tunes a Controller and supplies its optional collaborators
	Config struct {
		Logger   *zap.Logger
		Archiver Archiver
		Metrics  *Metrics
		Listener Listener

		// RetentionWindow is how many seconds of game time are retained
		RetentionWindow float64

		// SampleInterval is the game time between recorded Frames
		SampleInterval float64

		// ScrubRate multiplies the scaled elapsed time the scrub target
		// moves back each tick while previewing
		ScrubRate float64

		ArchiveWorkers   int
		ArchiveQueueSize int
		ArchiveTimeout   time.Duration
	}
)

const (
	DefaultRetentionWindow  = 10.0
	DefaultSampleInterval   = 0.1
	DefaultScrubRate        = 1.0
	DefaultArchiveWorkers   = 1
	DefaultArchiveQueueSize = 256
	DefaultArchiveTimeout   = 5 * time.Second
)

// ErrInvalidConfig is wrapped by every Config validation failure
var ErrInvalidConfig = errors.New("invalid rewind config")

func DefaultConfig() Config {
	return Config{
		RetentionWindow:  DefaultRetentionWindow,
		SampleInterval:   DefaultSampleInterval,
		ScrubRate:        DefaultScrubRate,
		ArchiveWorkers:   DefaultArchiveWorkers,
		ArchiveQueueSize: DefaultArchiveQueueSize,
		ArchiveTimeout:   DefaultArchiveTimeout,
	}
}

// Validate checks that the tunables describe a usable Controller
func (c Config) Validate() error {
	switch {
	case c.RetentionWindow <= 0:
		return fmt.Errorf("%w: retention window must be positive", ErrInvalidConfig)
	case c.SampleInterval <= 0:
		return fmt.Errorf("%w: sample interval must be positive", ErrInvalidConfig)
	case c.SampleInterval > c.RetentionWindow:
		return fmt.Errorf(
			"%w: sample interval exceeds retention window", ErrInvalidConfig,
		)
	case c.ScrubRate <= 0:
		return fmt.Errorf("%w: scrub rate must be positive", ErrInvalidConfig)
	case c.Archiver != nil && c.ArchiveWorkers <= 0:
		return fmt.Errorf("%w: archive workers must be positive", ErrInvalidConfig)
	case c.Archiver != nil && c.ArchiveQueueSize < 0:
		return fmt.Errorf("%w: archive queue size is negative", ErrInvalidConfig)
	}
	return nil
}
