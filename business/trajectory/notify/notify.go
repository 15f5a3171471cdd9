// Package notify publishes a best-effort summary of each processed trip
// over NATS, following the destination-interface-plus-json.Marshal idiom
// of the teacher's aggregator/prediction_publisher.go (there publishing
// gtfs.TripUpdate; here publishing TripProcessed).
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opentransittools/trajectorycore/business/data/trajectory"
)

// TripProcessed is the summary published for each trip the pipeline
// commits, for any downstream collaborator (notifications, live views)
// that wants to react to newly segmented trips without querying storage.
type TripProcessed struct {
	DeviceID  string    `json:"device_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	LegCount  int       `json:"leg_count"`
	Modes     []string  `json:"modes"`
}

// destination is where a processed-trip summary is sent. Satisfied by
// *nats.Conn in production and stubbed out in tests.
type destination interface {
	Publish(subject string, data []byte) error
}

// Publisher publishes TripProcessed summaries on a fixed NATS subject.
// Publish failures are logged by the caller, never escalated: notification
// is a courtesy to collaborators, not part of the pipeline's correctness.
type Publisher struct {
	dest    destination
	subject string
}

// New builds a Publisher sending to subject over conn.
func New(conn *nats.Conn, subject string) *Publisher {
	return &Publisher{dest: conn, subject: subject}
}

// Publish marshals and sends summary. Returns an error only for the caller
// to log; per spec.md §6.1 no publish failure may abort the pipeline.
func (p *Publisher) Publish(summary TripProcessed) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("notify: marshaling trip summary: %w", err)
	}
	return p.dest.Publish(p.subject, data)
}

// SummaryFromTrip builds a TripProcessed from a committed Trip.
func SummaryFromTrip(trip trajectory.Trip) TripProcessed {
	modes := make([]string, len(trip.Legs))
	for i, leg := range trip.Legs {
		modes[i] = leg.Mode.String()
	}
	return TripProcessed{
		DeviceID:  trip.DeviceID,
		StartTime: trip.StartTime,
		EndTime:   trip.EndTime,
		LegCount:  len(trip.Legs),
		Modes:     modes,
	}
}
