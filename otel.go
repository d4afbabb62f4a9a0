package chronicle

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	instrumentationName = "github.com/chronicle-io/chronicle"

	// InstrumentationVersion is reported with spans and metrics.
	InstrumentationVersion = "0.4.0"
)

// The repository records snapshot activity through these instruments.
// Store, command and bus metrics live in the otel decorator package.
var (
	meter metric.Meter

	SnapshotsTaken    metric.Int64Counter
	SnapshotsRestored metric.Int64Counter

	once        sync.Once
	initErr     error
	initialized bool
)

// Init initializes the package-level metric instruments. Call once at
// application startup, before wrapping stores with the otel decorator.
func Init() error {
	once.Do(func() {
		meter = otel.Meter(instrumentationName,
			metric.WithInstrumentationVersion(InstrumentationVersion))
		initErr = initializeMetrics()
		if initErr == nil {
			initialized = true
		}
	})
	return initErr
}

func initializeMetrics() error {
	var err error

	SnapshotsTaken, err = meter.Int64Counter(
		"chronicle.snapshots.taken",
		metric.WithDescription("Number of snapshots written"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		return err
	}

	SnapshotsRestored, err = meter.Int64Counter(
		"chronicle.snapshots.restored",
		metric.WithDescription("Number of aggregate loads seeded from a snapshot"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// IsInitialized reports whether metrics have been initialized.
func IsInitialized() bool {
	return initialized
}

// MustInit initializes metrics and panics on error. Use in main() for
// fail-fast behavior.
func MustInit() {
	if err := Init(); err != nil {
		panic("failed to initialize metrics: " + err.Error())
	}
}
