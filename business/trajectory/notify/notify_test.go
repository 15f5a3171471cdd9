package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opentransittools/trajectorycore/business/data/trajectory"
)

type fakeDestination struct {
	subject string
	data    []byte
	err     error
}

func (f *fakeDestination) Publish(subject string, data []byte) error {
	f.subject = subject
	f.data = data
	return f.err
}

func TestPublish_MarshalsAndSendsSummary(t *testing.T) {
	dest := &fakeDestination{}
	p := &Publisher{dest: dest, subject: "trajectorycore.trips"}

	summary := TripProcessed{DeviceID: "device-1", LegCount: 2, Modes: []string{"walking", "bus"}}
	require.NoError(t, p.Publish(summary))

	require.Equal(t, "trajectorycore.trips", dest.subject)
	require.Contains(t, string(dest.data), `"device_id":"device-1"`)
	require.Contains(t, string(dest.data), `"leg_count":2`)
}

func TestPublish_DestinationErrorPropagates(t *testing.T) {
	dest := &fakeDestination{err: errors.New("connection lost")}
	p := &Publisher{dest: dest, subject: "trajectorycore.trips"}

	err := p.Publish(TripProcessed{})
	require.Error(t, err)
	require.Equal(t, "connection lost", err.Error())
}

func TestSummaryFromTrip_CollectsModesInOrder(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	trip := trajectory.Trip{
		DeviceID:  "device-1",
		StartTime: base,
		EndTime:   base.Add(time.Hour),
		Legs: []trajectory.Leg{
			{Mode: trajectory.ModeWalking},
			{Mode: trajectory.ModeBus},
		},
	}

	summary := SummaryFromTrip(trip)
	require.Equal(t, "device-1", summary.DeviceID)
	require.Equal(t, 2, summary.LegCount)
	require.Equal(t, []string{"walking", "bus"}, summary.Modes)
}

func TestSummaryFromTrip_NoLegsProducesEmptySlice(t *testing.T) {
	trip := trajectory.Trip{DeviceID: "device-1"}
	summary := SummaryFromTrip(trip)
	require.Equal(t, 0, summary.LegCount)
	require.Len(t, summary.Modes, 0)
}
