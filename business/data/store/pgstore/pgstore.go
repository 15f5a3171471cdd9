// Package pgstore implements the business/data/store interfaces against
// Postgres, in the teacher's sqlx + db-tagged-struct style
// (business/data/gtfs/observed_stop_time.go, gtfs.go) built on
// foundation/database's jackc/pgx-backed Open.
package pgstore

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opentransittools/trajectorycore/business/data/store"
	"github.com/opentransittools/trajectorycore/business/data/trajectory"
	"github.com/opentransittools/trajectorycore/foundation/database"
)

// Store implements store.SampleReader, store.TransitObservationReader,
// store.PriorLegReader, store.TripWriter and store.WorkDiscoverer against
// a single Postgres database.
type Store struct {
	db     *sqlx.DB
	origin wgs84Origin
}

// Open connects to Postgres using foundation/database.Open's connection
// conventions. originLonDeg/originLatDeg anchor the WGS84 rendering
// written alongside each leg's planar geometry (crs.go).
func Open(cfg database.Config, originLonDeg, originLatDeg float64) (*Store, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, origin: wgs84Origin{LonDeg: originLonDeg, LatDeg: originLatDeg}}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// sampleRow mirrors trajectory.Sample's columns for scanning out of
// location_sample.
type sampleRow struct {
	Time               time.Time `db:"sample_time"`
	X                  float64   `db:"x"`
	Y                  float64   `db:"y"`
	Speed              *float64  `db:"speed"`
	LocError           float64   `db:"loc_error"`
	Activity           string    `db:"activity"`
	ActivityConfidence float64   `db:"activity_confidence"`
	IsMoving           *bool     `db:"is_moving"`
	ClosestCarWayDist  float64   `db:"closest_car_way_dist"`
	ClosestRailWayDist float64   `db:"closest_rail_way_dist"`
	ReceivedAt         time.Time `db:"received_at"`
}

func (r sampleRow) toSample() trajectory.Sample {
	return trajectory.Sample{
		Time:               r.Time,
		X:                  r.X,
		Y:                  r.Y,
		Speed:              r.Speed,
		LocError:           r.LocError,
		Activity:           trajectory.ParseActivityType(r.Activity),
		ActivityConfidence: r.ActivityConfidence,
		IsMoving:           r.IsMoving,
		ClosestCarWayDist:  r.ClosestCarWayDist,
		ClosestRailWayDist: r.ClosestRailWayDist,
		ReceivedAt:         r.ReceivedAt,
	}
}

// ReadLocations implements store.SampleReader.
func (s *Store) ReadLocations(ctx context.Context, deviceID string, start, end time.Time, includeAll bool) ([]trajectory.Sample, error) {
	const query = `
		select sample_time, x, y, speed, loc_error, activity, activity_confidence,
		       is_moving, closest_car_way_dist, closest_rail_way_dist, received_at
		from location_sample
		where device_id = $1 and sample_time >= $2 and sample_time < $3
		order by sample_time`

	var rows []sampleRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), deviceID, start, end); err != nil {
		return nil, err
	}

	samples := make([]trajectory.Sample, len(rows))
	for i, r := range rows {
		samples[i] = r.toSample()
	}
	return samples, nil
}

type observationRow struct {
	VehicleJourneyRef string    `db:"vehicle_journey_ref"`
	VehicleRef        string    `db:"vehicle_ref"`
	Time              time.Time `db:"obs_time"`
	RouteType         int       `db:"route_type"`
	RouteName         string    `db:"route_name"`
	X                 float64   `db:"x"`
	Y                 float64   `db:"y"`
}

// ReadTransitObservations implements store.TransitObservationReader. The
// spatial-buffer intersection against the device's leg polyline is
// performed in SQL (via the transit_observation_buffer view), not here
// (spec.md §6).
func (s *Store) ReadTransitObservations(ctx context.Context, deviceID string, start, end time.Time) ([]trajectory.TransitVehicleObservation, error) {
	const query = `
		select vehicle_journey_ref, vehicle_ref, obs_time, route_type, route_name, x, y
		from transit_observation_buffer
		where device_id = $1 and obs_time >= $2 and obs_time < $3
		order by obs_time`

	var rows []observationRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), deviceID, start, end); err != nil {
		return nil, err
	}

	out := make([]trajectory.TransitVehicleObservation, len(rows))
	for i, r := range rows {
		out[i] = trajectory.TransitVehicleObservation{
			VehicleJourneyRef: r.VehicleJourneyRef,
			VehicleRef:        r.VehicleRef,
			Time:              r.Time,
			RouteType:         trajectory.TransitRouteType(r.RouteType),
			RouteName:         r.RouteName,
			X:                 r.X,
			Y:                 r.Y,
		}
	}
	return out, nil
}

// HasUserEditedLegs implements store.PriorLegReader.
func (s *Store) HasUserEditedLegs(ctx context.Context, deviceID string, tripStart, tripEnd time.Time) (bool, error) {
	const query = `
		select exists(
			select 1 from leg
			where device_id = $1
			  and trip_start_time = $2
			  and trip_end_time = $3
			  and user_corrected
		)`

	var exists bool
	err := s.db.GetContext(ctx, &exists, s.db.Rebind(query), deviceID, tripStart, tripEnd)
	return exists, err
}

type legRow struct {
	DeviceID      string    `db:"device_id"`
	TripStartTime time.Time `db:"trip_start_time"`
	TripEndTime   time.Time `db:"trip_end_time"`
	StartTime     time.Time `db:"start_time"`
	EndTime       time.Time `db:"end_time"`
	StartX        float64   `db:"start_x"`
	StartY        float64   `db:"start_y"`
	EndX          float64   `db:"end_x"`
	EndY          float64   `db:"end_y"`
	LengthMeters  float64   `db:"length_meters"`
	Mode          string    `db:"mode"`
	UserCorrected bool      `db:"user_corrected"`
	StartLon      float64   `db:"start_lon"`
	StartLat      float64   `db:"start_lat"`
	EndLon        float64   `db:"end_lon"`
	EndLat        float64   `db:"end_lat"`
	PathGeoJSON   []byte    `db:"path_geojson"`
}

// WriteTrip implements store.TripWriter. It deletes every existing leg
// stored under this device's (tripStart, tripEnd) trip window, user-corrected
// or not, and inserts the new ones inside one transaction, the idempotent-rewrite behavior spec.md §5
// requires. Callers must have already checked HasUserEditedLegs; WriteTrip
// does not re-check it, to keep the check-then-write race window owned by
// a single caller-held device lock (business/trajectory/dispatch).
func (s *Store) WriteTrip(ctx context.Context, deviceID string, tripStart, tripEnd time.Time, legs []trajectory.Leg) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const deleteStatement = `
		delete from leg
		where device_id = $1 and trip_start_time = $2 and trip_end_time = $3`
	if _, err := tx.ExecContext(ctx, tx.Rebind(deleteStatement), deviceID, tripStart, tripEnd); err != nil {
		return err
	}

	const insertStatement = `
		insert into leg
			(device_id, trip_start_time, trip_end_time, start_time, end_time,
			 start_x, start_y, end_x, end_y, length_meters, mode, user_corrected,
			 start_lon, start_lat, end_lon, end_lat, path_geojson)
		values
			(:device_id, :trip_start_time, :trip_end_time, :start_time, :end_time,
			 :start_x, :start_y, :end_x, :end_y, :length_meters, :mode, :user_corrected,
			 :start_lon, :start_lat, :end_lon, :end_lat, :path_geojson)`

	for _, leg := range legs {
		startLon, startLat := s.origin.toWGS84(leg.StartLoc.X, leg.StartLoc.Y)
		endLon, endLat := s.origin.toWGS84(leg.EndLoc.X, leg.EndLoc.Y)
		pathJSON, err := legLineStringJSON(leg)
		if err != nil {
			return err
		}

		row := legRow{
			DeviceID:      deviceID,
			TripStartTime: tripStart,
			TripEndTime:   tripEnd,
			StartTime:     leg.StartTime,
			EndTime:       leg.EndTime,
			StartX:        leg.StartLoc.X,
			StartY:        leg.StartLoc.Y,
			EndX:          leg.EndLoc.X,
			EndY:          leg.EndLoc.Y,
			LengthMeters:  leg.LengthMeters,
			Mode:          leg.Mode.String(),
			UserCorrected: leg.UserCorrected,
			StartLon:      startLon,
			StartLat:      startLat,
			EndLon:        endLon,
			EndLat:        endLat,
			PathGeoJSON:   pathJSON,
		}
		if _, err := tx.NamedExecContext(ctx, insertStatement, row); err != nil {
			return err
		}
	}

	return tx.Commit()
}

type cursorRow struct {
	DeviceID      string    `db:"device_id"`
	LastProcessed time.Time `db:"last_processed"`
}

// FindDevicesWithNewSamples implements store.WorkDiscoverer.
func (s *Store) FindDevicesWithNewSamples(ctx context.Context, minReceivedAt time.Time) ([]store.DeviceCursor, error) {
	const query = `
		select ls.device_id, coalesce(c.last_processed, to_timestamp(0)) as last_processed
		from (select device_id, max(received_at) as last_received
		      from location_sample where received_at >= $1 group by device_id) ls
		left join device_cursor c on c.device_id = ls.device_id
		where ls.last_received > coalesce(c.last_processed, to_timestamp(0))`

	var rows []cursorRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), minReceivedAt); err != nil {
		return nil, err
	}

	out := make([]store.DeviceCursor, len(rows))
	for i, r := range rows {
		out[i] = store.DeviceCursor{DeviceID: r.DeviceID, LastProcessed: r.LastProcessed}
	}
	return out, nil
}
