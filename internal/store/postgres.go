package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"dispatch/internal/domain"
	"dispatch/pkg/database"
	"dispatch/pkg/telemetry"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("store: entity not found")

// PostgresStore is the relational implementation of Store, backed by the
// orders/drivers/batches/routes/reassignment_events schema.
type PostgresStore struct {
	db database.DB
}

// NewPostgresStore wraps an already-connected database handle.
func NewPostgresStore(db database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() {}

// --- Drivers ---------------------------------------------------------

func (s *PostgresStore) GetDriver(ctx context.Context, id uuid.UUID) (*domain.Driver, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.GetDriver")
	defer span.End()

	row := s.db.QueryRow(ctx, `
		SELECT id, name, lat, lng, base_lat, base_lng, operational_state,
			vehicle_type, capacity_kg, current_load_kg, service_eligibility,
			counters, performance, active_order_id, created_at, updated_at
		FROM drivers WHERE id = $1
	`, id)

	d, err := scanDriver(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get driver: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) NearbyAvailableDrivers(ctx context.Context, q NearbyDriversQuery) ([]*domain.Driver, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.NearbyAvailableDrivers")
	defer span.End()

	// A bounding-box pre-filter on stored lat/lng keeps the scan on the
	// (operational_state, geography) index; the haversine refinement that
	// produces the true radius and the availability score happens in
	// internal/driverstate, not here.
	degreesPerKM := 1.0 / 111.0
	delta := q.RadiusKM * degreesPerKM

	rows, err := s.db.Query(ctx, `
		SELECT id, name, lat, lng, base_lat, base_lng, operational_state,
			vehicle_type, capacity_kg, current_load_kg, service_eligibility,
			counters, performance, active_order_id, created_at, updated_at
		FROM drivers
		WHERE operational_state IN ('AVAILABLE', 'RETURNING')
			AND lat BETWEEN $1 AND $2
			AND lng BETWEEN $3 AND $4
			AND (performance->>'rating')::float8 >= $5
			AND NOT (vehicle_type = ANY($6))
	`, q.PickupLocation.Lat-delta, q.PickupLocation.Lat+delta,
		q.PickupLocation.Lng-delta, q.PickupLocation.Lng+delta,
		q.MinRating, excludedVehicleNames(q.ExcludeVehicles))
	if err != nil {
		return nil, fmt.Errorf("nearby available drivers: %w", err)
	}
	defer rows.Close()

	var drivers []*domain.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, fmt.Errorf("scan driver: %w", err)
		}
		if q.ServiceClass != "" && !d.EligibleFor(q.ServiceClass) {
			continue
		}
		drivers = append(drivers, d)
	}
	return drivers, rows.Err()
}

func (s *PostgresStore) UpdateDriver(ctx context.Context, d *domain.Driver) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.UpdateDriver")
	defer span.End()

	eligibility, err := json.Marshal(d.ServiceEligibility)
	if err != nil {
		return fmt.Errorf("marshal service eligibility: %w", err)
	}
	counters, err := json.Marshal(d.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	performance, err := json.Marshal(d.Performance)
	if err != nil {
		return fmt.Errorf("marshal performance: %w", err)
	}

	d.UpdatedAt = time.Now()
	_, err = s.db.Exec(ctx, `
		UPDATE drivers SET
			name = $2, lat = $3, lng = $4, base_lat = $5, base_lng = $6,
			operational_state = $7, vehicle_type = $8, capacity_kg = $9,
			current_load_kg = $10, service_eligibility = $11, counters = $12,
			performance = $13, active_order_id = $14, updated_at = $15
		WHERE id = $1
	`, d.ID, d.Name, d.Location.Lat, d.Location.Lng, d.BaseLocation.Lat, d.BaseLocation.Lng,
		d.State, d.VehicleType, d.CapacityKG, d.CurrentLoadKG, eligibility, counters,
		performance, d.ActiveOrderID, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update driver: %w", err)
	}
	return nil
}

func (s *PostgresStore) BatchUpdateDriverLocations(ctx context.Context, updates map[uuid.UUID]domain.Location) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.BatchUpdateDriverLocations")
	defer span.End()

	return database.WithTransaction(ctx, s.db, func(tx pgx.Tx) error {
		now := time.Now()
		for id, loc := range updates {
			if _, err := tx.Exec(ctx, `
				UPDATE drivers SET lat = $2, lng = $3, updated_at = $4 WHERE id = $1
			`, id, loc.Lat, loc.Lng, now); err != nil {
				return fmt.Errorf("update location for driver %s: %w", id, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) ResetDailyMetrics(ctx context.Context, asOf time.Time) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.ResetDailyMetrics")
	defer span.End()

	tag, err := s.db.Exec(ctx, `
		UPDATE drivers SET
			counters = jsonb_set(
				jsonb_set(counters, '{completed}', '0'),
				'{consecutive_deliveries}', '0'
			),
			updated_at = $1
	`, asOf)
	if err != nil {
		return 0, fmt.Errorf("reset daily metrics: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListDrivers(ctx context.Context) ([]*domain.Driver, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.ListDrivers")
	defer span.End()

	rows, err := s.db.Query(ctx, `
		SELECT id, name, lat, lng, base_lat, base_lng, operational_state,
			vehicle_type, capacity_kg, current_load_kg, service_eligibility,
			counters, performance, active_order_id, created_at, updated_at
		FROM drivers
	`)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	defer rows.Close()

	var out []*domain.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, fmt.Errorf("scan driver: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Orders -----------------------------------------------------------

func (s *PostgresStore) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.GetOrder")
	defer span.End()

	row := s.db.QueryRow(ctx, orderSelectSQL+` WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (s *PostgresStore) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.ListOrdersByStatus")
	defer span.End()

	rows, err := s.db.Query(ctx, orderSelectSQL+` WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("list orders by status: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *PostgresStore) ListPendingUnassignedOrders(ctx context.Context) ([]*domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.ListPendingUnassignedOrders")
	defer span.End()

	rows, err := s.db.Query(ctx, orderSelectSQL+`
		WHERE status = 'PENDING' AND assigned_driver_id IS NULL
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending unassigned orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *PostgresStore) ListInFlightOrders(ctx context.Context) ([]*domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.ListInFlightOrders")
	defer span.End()

	rows, err := s.db.Query(ctx, orderSelectSQL+`
		WHERE status IN ('ASSIGNED', 'PICKED_UP')
		ORDER BY sla_deadline
	`)
	if err != nil {
		return nil, fmt.Errorf("list in-flight orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, o *domain.Order) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.UpdateOrder")
	defer span.End()

	tw, err := marshalTimeWindow(o.TimeWindow)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		UPDATE orders SET
			status = $2, assigned_driver_id = $3, reassignment_count = $4,
			last_reassignment_reason = $5, batch_id = $6, time_window = $7,
			delivery_eta = $8
		WHERE id = $1
	`, o.ID, o.Status, o.AssignedDriverID, o.ReassignmentCount,
		o.LastReassignmentReason, o.BatchID, tw, o.DeliveryETA)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

// --- Cross-entity operations -------------------------------------------

// AssignOrderToDriver attaches orderID to driverID on the order row only,
// the same way CreateBatch leaves driver state untouched. The driver's
// AVAILABLE -> BUSY transition belongs solely to driverstate.Engine.AssignOrder,
// which applies it in its own guarded read-modify-write and publishes the
// resulting state-changed event.
func (s *PostgresStore) AssignOrderToDriver(ctx context.Context, orderID, driverID uuid.UUID) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.AssignOrderToDriver")
	defer span.End()

	tag, err := s.db.Exec(ctx, `
		UPDATE orders SET status = 'ASSIGNED', assigned_driver_id = $2
		WHERE id = $1 AND status = 'PENDING'
	`, orderID, driverID)
	if err != nil {
		return fmt.Errorf("assign order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s is not PENDING", orderID)
	}
	return nil
}

func (s *PostgresStore) ReassignOrder(ctx context.Context, orderID, fromDriverID, toDriverID uuid.UUID, reason string) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.ReassignOrder")
	defer span.End()

	return database.WithTransaction(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE orders SET assigned_driver_id = $2, reassignment_count = reassignment_count + 1,
				last_reassignment_reason = $3
			WHERE id = $1
		`, orderID, toDriverID, reason)
		if err != nil {
			return fmt.Errorf("reassign order: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("order %s not found", orderID)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE drivers SET operational_state = 'AVAILABLE', active_order_id = NULL
			WHERE id = $1 AND active_order_id = $2
		`, fromDriverID, orderID); err != nil {
			return fmt.Errorf("release previous driver: %w", err)
		}

		tag, err = tx.Exec(ctx, `
			UPDATE drivers SET operational_state = 'BUSY', active_order_id = $2
			WHERE id = $1 AND operational_state = 'AVAILABLE'
		`, toDriverID, orderID)
		if err != nil {
			return fmt.Errorf("assign new driver: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("driver %s is not AVAILABLE", toDriverID)
		}
		return nil
	})
}

// --- Batches & routes ---------------------------------------------------

func (s *PostgresStore) CreateBatch(ctx context.Context, b *domain.Batch, route *domain.Route) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.CreateBatch")
	defer span.End()

	return database.WithTransaction(ctx, s.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO batches (number, order_ids, service_class, assigned_driver_id, status, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
			RETURNING id, created_at
		`, b.Number, uuidsToStrings(b.OrderIDs), b.ServiceClass, b.AssignedDriverID, b.Status,
		).Scan(&b.ID, &b.CreatedAt); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}

		stops, err := json.Marshal(route.Stops)
		if err != nil {
			return fmt.Errorf("marshal route stops: %w", err)
		}

		route.BatchID = b.ID
		if err := tx.QueryRow(ctx, `
			INSERT INTO routes (batch_id, driver_id, stops, total_distance_km, fallback_reason)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, route.BatchID, route.DriverID, stops, route.TotalDistanceKM, route.FallbackReason,
		).Scan(&route.ID); err != nil {
			return fmt.Errorf("create route: %w", err)
		}

		for _, orderID := range b.OrderIDs {
			if _, err := tx.Exec(ctx, `
				UPDATE orders SET batch_id = $2, status = 'ASSIGNED', assigned_driver_id = $3
				WHERE id = $1
			`, orderID, b.ID, b.AssignedDriverID); err != nil {
				return fmt.Errorf("attach order %s to batch: %w", orderID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetBatch(ctx context.Context, id uuid.UUID) (*domain.Batch, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.GetBatch")
	defer span.End()

	var b domain.Batch
	var orderIDs []string
	err := s.db.QueryRow(ctx, `
		SELECT id, number, order_ids, service_class, assigned_driver_id, status, created_at
		FROM batches WHERE id = $1
	`, id).Scan(&b.ID, &b.Number, &orderIDs, &b.ServiceClass, &b.AssignedDriverID, &b.Status, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get batch: %w", err)
	}
	b.OrderIDs, err = stringsToUUIDs(orderIDs)
	if err != nil {
		return nil, fmt.Errorf("parse batch order ids: %w", err)
	}
	return &b, nil
}

func (s *PostgresStore) UpdateBatch(ctx context.Context, b *domain.Batch) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.UpdateBatch")
	defer span.End()

	_, err := s.db.Exec(ctx, `
		UPDATE batches SET status = $2, assigned_driver_id = $3 WHERE id = $1
	`, b.ID, b.Status, b.AssignedDriverID)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	return nil
}

// --- Reassignment history -----------------------------------------------

func (s *PostgresStore) RecordReassignmentEvent(ctx context.Context, ev *domain.ReassignmentEvent) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStore.RecordReassignmentEvent")
	defer span.End()

	err := s.db.QueryRow(ctx, `
		INSERT INTO reassignment_events
			(order_id, from_driver_id, to_driver_id, reason, distance_km, driver_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, ev.OrderID, ev.FromDriverID, ev.ToDriverID, ev.Reason, ev.DistanceKM, ev.DriverScore, ev.Timestamp,
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("record reassignment event: %w", err)
	}
	return nil
}

// --- scan helpers ---------------------------------------------------------

const orderSelectSQL = `
	SELECT id, tracking_number, pickup_lat, pickup_lng, pickup_address,
		dropoff_lat, dropoff_lng, dropoff_address, service_class, weight_kg,
		created_at, sla_deadline, status, assigned_driver_id,
		reassignment_count, last_reassignment_reason, batch_id, time_window,
		delivery_eta
	FROM orders`

func scanDriver(row pgx.Row) (*domain.Driver, error) {
	var d domain.Driver
	var eligibility, counters, performance []byte
	err := row.Scan(
		&d.ID, &d.Name, &d.Location.Lat, &d.Location.Lng, &d.BaseLocation.Lat, &d.BaseLocation.Lng,
		&d.State, &d.VehicleType, &d.CapacityKG, &d.CurrentLoadKG, &eligibility, &counters,
		&performance, &d.ActiveOrderID, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(eligibility, &d.ServiceEligibility); err != nil {
		return nil, fmt.Errorf("unmarshal service eligibility: %w", err)
	}
	if err := json.Unmarshal(counters, &d.Counters); err != nil {
		return nil, fmt.Errorf("unmarshal counters: %w", err)
	}
	if err := json.Unmarshal(performance, &d.Performance); err != nil {
		return nil, fmt.Errorf("unmarshal performance: %w", err)
	}
	return &d, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var tw []byte
	err := row.Scan(
		&o.ID, &o.TrackingNumber, &o.PickupLocation.Lat, &o.PickupLocation.Lng, &o.PickupAddress,
		&o.DropoffLocation.Lat, &o.DropoffLocation.Lng, &o.DropoffAddress, &o.ServiceClass, &o.WeightKG,
		&o.CreatedAt, &o.SLADeadline, &o.Status, &o.AssignedDriverID,
		&o.ReassignmentCount, &o.LastReassignmentReason, &o.BatchID, &tw, &o.DeliveryETA,
	)
	if err != nil {
		return nil, err
	}
	if len(tw) > 0 {
		var window domain.TimeWindow
		if err := json.Unmarshal(tw, &window); err != nil {
			return nil, fmt.Errorf("unmarshal time window: %w", err)
		}
		o.TimeWindow = &window
	}
	return &o, nil
}

func scanOrders(rows pgx.Rows) ([]*domain.Order, error) {
	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func marshalTimeWindow(tw *domain.TimeWindow) ([]byte, error) {
	if tw == nil {
		return nil, nil
	}
	b, err := json.Marshal(tw)
	if err != nil {
		return nil, fmt.Errorf("marshal time window: %w", err)
	}
	return b, nil
}

func excludedVehicleNames(vs []domain.VehicleType) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = string(v)
	}
	return out
}

func uuidsToStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func stringsToUUIDs(ss []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(ss))
	for i, s := range ss {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}
