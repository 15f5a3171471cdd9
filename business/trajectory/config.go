// Package trajectory wires the five pipeline stages (loader, tripsplit, imm,
// legsegment, transitmatch) together behind a single PipelineConfig, and
// exposes RunDevice, the per-device entry point the dispatcher calls.
package trajectory

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/opentransittools/trajectorycore/business/data/store"
	"github.com/opentransittools/trajectorycore/business/data/trajectory"
	"github.com/opentransittools/trajectorycore/business/trajectory/errs"
	"github.com/opentransittools/trajectorycore/business/trajectory/legsegment"
	"github.com/opentransittools/trajectorycore/business/trajectory/loader"
	"github.com/opentransittools/trajectorycore/business/trajectory/notify"
	"github.com/opentransittools/trajectorycore/business/trajectory/transitmatch"
	"github.com/opentransittools/trajectorycore/business/trajectory/tripsplit"
)

// PipelineConfig carries every wire-stable constant and tunable threshold
// the pipeline needs, replacing the module-level constants of the original
// implementation with an explicit value threaded through every stage.
type PipelineConfig struct {
	// MinsBetweenTrips is the gap, in minutes, that starts a new trip.
	MinsBetweenTrips int `conf:"default:20"`
	// MinDistanceMovedInTrip is the dispersion threshold, in meters, a
	// trip's good samples must exceed to be kept.
	MinDistanceMovedInTrip float64 `conf:"default:200"`
	// MinSamplesPerLeg is the minimum number of low-error samples a
	// committed leg must contain.
	MinSamplesPerLeg int `conf:"default:15"`
	// MaxMethods caps the number of distinct transport-mode groups per
	// trip when EnableMethodCap is set (spec.md §4.4 Stage D).
	MaxMethods      int  `conf:"default:3"`
	EnableMethodCap bool `conf:"default:true"`

	// LocalCRS is the EPSG identifier of the local planar projection
	// samples are stored in.
	LocalCRS int `conf:"default:3067"`

	// UserHasCar gates how strict the transit matcher is about accepting
	// a match (spec.md §4.5 point 4). RunDevice applies this one value to
	// every device; no per-device override is read.
	UserHasCar bool `conf:"default:true"`

	TransitMatchBufferMeters float64       `conf:"default:200"`
	TransitMatchTimeWindow   time.Duration `conf:"default:1m"`
}

// DefaultPipelineConfig returns the wire-stable defaults named in spec.md §6.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MinsBetweenTrips:         20,
		MinDistanceMovedInTrip:   200,
		MinSamplesPerLeg:         15,
		MaxMethods:               3,
		EnableMethodCap:          true,
		LocalCRS:                 3067,
		UserHasCar:               true,
		TransitMatchBufferMeters: 200,
		TransitMatchTimeWindow:   time.Minute,
	}
}

// RunDevice runs all five stages for one device's [start, end) window and
// writes the resulting trips. It implements the per-device unit of work the
// dispatcher schedules onto its worker pool (spec.md §5).
func RunDevice(
	ctx context.Context,
	log *log.Logger,
	cfg PipelineConfig,
	deviceID string,
	start, end time.Time,
	includeAll bool,
	reader store.SampleReader,
	transitReader store.TransitObservationReader,
	priorLegs store.PriorLegReader,
	writer store.TripWriter,
	notifier *notify.Publisher,
) error {
	samples, err := loader.Load(ctx, reader, deviceID, start, end, includeAll)
	if err != nil {
		if errs.IsNoData(err) {
			return err
		}
		return errs.UpstreamQuery(fmt.Errorf("loading samples for device %s: %w", deviceID, err))
	}

	candidateTrips := tripsplit.Split(samples, tripsplit.Config{
		MinsBetweenTrips:       cfg.MinsBetweenTrips,
		MinDistanceMovedInTrip: cfg.MinDistanceMovedInTrip,
	}, includeAll)

	var written int
	for _, candidate := range candidateTrips {
		trip, err := buildTrip(ctx, log, cfg, deviceID, candidate, transitReader)
		if err != nil {
			log.Printf("trajectory: dropping trip for device %s [%s..%s]: %v",
				deviceID, candidate.StartTime().Format(time.RFC3339), candidate.EndTime().Format(time.RFC3339), err)
			continue
		}
		if len(trip.Legs) == 0 {
			continue
		}

		hasUserEdit, err := priorLegs.HasUserEditedLegs(ctx, deviceID, trip.StartTime, trip.EndTime)
		if err != nil {
			return errs.UpstreamQuery(fmt.Errorf("checking prior legs for device %s: %w", deviceID, err))
		}
		if hasUserEdit {
			log.Printf("trajectory: skipping rewrite for trip [%s..%s]: %v",
				trip.StartTime.Format(time.RFC3339), trip.EndTime.Format(time.RFC3339), errs.UserEditConflict(deviceID))
			continue
		}

		if err := writer.WriteTrip(ctx, deviceID, trip.StartTime, trip.EndTime, trip.Legs); err != nil {
			return errs.UpstreamQuery(fmt.Errorf("writing trip for device %s: %w", deviceID, err))
		}
		written++

		if notifier != nil {
			if err := notifier.Publish(notify.SummaryFromTrip(trip)); err != nil {
				log.Printf("trajectory: notify publish failed for device %s: %v", deviceID, err)
			}
		}
	}
	log.Printf("trajectory: device %s produced %d trips from %d samples", deviceID, written, len(samples))
	return nil
}

// buildTrip runs stages 3-5 (IMM filter, leg segmenter, transit matcher) on
// one candidate trip. Numeric failures here are contained to this trip, per
// spec.md §7 (Numeric error kind).
func buildTrip(
	ctx context.Context,
	log *log.Logger,
	cfg PipelineConfig,
	deviceID string,
	candidate tripsplit.CandidateTrip,
	transitReader store.TransitObservationReader,
) (trajectory.Trip, error) {
	filtered, err := candidate.Filter()
	if err != nil {
		return trajectory.Trip{}, errs.Numeric(fmt.Errorf("IMM filter: %w", err))
	}

	legs := legsegment.Segment(filtered, legsegment.Config{
		MinSamplesPerLeg: cfg.MinSamplesPerLeg,
		MaxMethods:       cfg.MaxMethods,
		EnableMethodCap:  cfg.EnableMethodCap,
	})

	matched := make([]trajectory.Leg, len(legs))
	for i, leg := range legs {
		if leg.Mode != trajectory.ModeInVehicle {
			matched[i] = leg
			continue
		}
		refined, err := transitmatch.Match(ctx, transitReader, deviceID, leg, transitmatch.Config{
			BufferMeters:   cfg.TransitMatchBufferMeters,
			TimeWindow:     cfg.TransitMatchTimeWindow,
			UserHasCar:     cfg.UserHasCar,
		})
		if err != nil {
			// Match hands back the unchanged leg with a transit query
			// error; it is logged here and never fails the trip (spec.md
			// §4.5 Failure handling).
			log.Printf("trajectory: transit match error, keeping in_vehicle: %v", err)
			matched[i] = leg
			continue
		}
		matched[i] = refined
	}

	return trajectory.Trip{
		DeviceID:  deviceID,
		Index:     candidate.Index,
		StartTime: candidate.StartTime(),
		EndTime:   candidate.EndTime(),
		Legs:      matched,
	}, nil
}
