package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LovationAdmin/fleet-api/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
	ErrNoChanges = errors.New("no fields to update")
)

// FleetStore reads and writes the fleet tables.
type FleetStore struct {
	db *sql.DB
}

func NewFleetStore(db *sql.DB) *FleetStore {
	return &FleetStore{db: db}
}

// ============================================================================
// VEHICLES
// ============================================================================

func (s *FleetStore) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, placa, marca, modelo, ano, COALESCE(color, ''), COALESCE(propietario, ''),
		       COALESCE(poliza, ''), COALESCE(seguro, ''), created_at, updated_at
		FROM vehiculos
		ORDER BY placa
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vehicles := []models.Vehicle{}
	for rows.Next() {
		var v models.Vehicle
		if err := rows.Scan(&v.ID, &v.Plate, &v.Make, &v.Model, &v.Year, &v.Color, &v.Owner,
			&v.Policy, &v.Insurer, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

func (s *FleetStore) CreateVehicle(ctx context.Context, v models.Vehicle) (*models.Vehicle, error) {
	v.ID = uuid.New().String()
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vehiculos (id, placa, marca, modelo, ano, color, propietario, poliza, seguro, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, v.ID, v.Plate, v.Make, v.Model, v.Year, v.Color, v.Owner, v.Policy, v.Insurer, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return nil, uniqueViolation(err)
	}
	return &v, nil
}

// UpdateVehicle applies the non-nil fields of req and bumps updated_at.
func (s *FleetStore) UpdateVehicle(ctx context.Context, plate string, req models.UpdateVehicleRequest) error {
	sets, args := vehicleUpdates(req)
	if len(sets) == 0 {
		return ErrNoChanges
	}
	args = append(args, plate)
	query := fmt.Sprintf(`UPDATE vehiculos SET %s, updated_at = NOW() WHERE placa = $%d`,
		strings.Join(sets, ", "), len(args))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func vehicleUpdates(req models.UpdateVehicleRequest) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if req.Make != nil {
		add("marca", *req.Make)
	}
	if req.Model != nil {
		add("modelo", *req.Model)
	}
	if req.Year != nil {
		add("ano", *req.Year)
	}
	if req.Color != nil {
		add("color", *req.Color)
	}
	if req.Owner != nil {
		add("propietario", *req.Owner)
	}
	if req.Policy != nil {
		add("poliza", *req.Policy)
	}
	if req.Insurer != nil {
		add("seguro", *req.Insurer)
	}
	return sets, args
}

func (s *FleetStore) DeleteVehicle(ctx context.Context, plate string) error {
	return s.deleteWhere(ctx, `DELETE FROM vehiculos WHERE placa = $1`, plate)
}

func (s *FleetStore) CountVehicles(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vehiculos`).Scan(&n)
	return n, err
}

// ============================================================================
// FUEL
// ============================================================================

func (s *FleetStore) ListFuel(ctx context.Context) ([]models.FuelRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, placa, TO_CHAR(fecha, 'YYYY-MM-DD'), litros, costo, kilometraje,
		       COALESCE(estacion, ''), created_at
		FROM combustible
		ORDER BY fecha DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.FuelRecord{}
	for rows.Next() {
		var r models.FuelRecord
		var cost decimal.NullDecimal
		var odometer sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Plate, &r.Date, &r.Liters, &cost, &odometer, &r.Station, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Cost = models.Cost{Value: cost.Decimal, Valid: cost.Valid}
		r.Odometer = intPtr(odometer)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *FleetStore) CreateFuel(ctx context.Context, req models.CreateFuelRequest) (*models.FuelRecord, error) {
	r := models.FuelRecord{
		ID:        uuid.New().String(),
		Plate:     req.Plate,
		Date:      req.Date,
		Liters:    req.Liters,
		Cost:      req.Cost,
		Odometer:  req.Odometer,
		Station:   req.Station,
		CreatedAt: time.Now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO combustible (id, fecha, placa, litros, costo, kilometraje, estacion, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.Date, r.Plate, r.Liters, r.Cost.Amount(), r.Odometer, r.Station, r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *FleetStore) DeleteFuel(ctx context.Context, id string) error {
	return s.deleteWhere(ctx, `DELETE FROM combustible WHERE id = $1`, id)
}

// ============================================================================
// MAINTENANCE
// ============================================================================

func (s *FleetStore) ListMaintenance(ctx context.Context) ([]models.MaintenanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, placa, TO_CHAR(fecha, 'YYYY-MM-DD'), tipo, COALESCE(descripcion, ''),
		       costo, kilometraje, created_at
		FROM mantenimientos
		ORDER BY fecha DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.MaintenanceRecord{}
	for rows.Next() {
		var r models.MaintenanceRecord
		var cost decimal.NullDecimal
		var odometer sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Plate, &r.Date, &r.Type, &r.Description, &cost, &odometer, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Cost = models.Cost{Value: cost.Decimal, Valid: cost.Valid}
		r.Odometer = intPtr(odometer)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *FleetStore) CreateMaintenance(ctx context.Context, req models.CreateMaintenanceRequest) (*models.MaintenanceRecord, error) {
	r := models.MaintenanceRecord{
		ID:          uuid.New().String(),
		Plate:       req.Plate,
		Date:        req.Date,
		Type:        req.Type,
		Description: req.Description,
		Cost:        req.Cost,
		Odometer:    req.Odometer,
		CreatedAt:   time.Now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mantenimientos (id, fecha, placa, tipo, descripcion, costo, kilometraje, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.Date, r.Plate, r.Type, r.Description, r.Cost.Amount(), r.Odometer, r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *FleetStore) DeleteMaintenance(ctx context.Context, id string) error {
	return s.deleteWhere(ctx, `DELETE FROM mantenimientos WHERE id = $1`, id)
}

// ============================================================================
// REVISIONS
// ============================================================================

func (s *FleetStore) ListRevisions(ctx context.Context) ([]models.Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, placa, TO_CHAR(fecha, 'YYYY-MM-DD'), inspector, estado_motor, estado_frenos,
		       estado_luces, estado_llantas, estado_carroceria, COALESCE(observaciones, ''),
		       aprobado, created_at
		FROM revisiones
		ORDER BY fecha DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.Revision{}
	for rows.Next() {
		var r models.Revision
		if err := rows.Scan(&r.ID, &r.Plate, &r.Date, &r.Inspector, &r.Engine, &r.Brakes,
			&r.Lights, &r.Tires, &r.Bodywork, &r.Observations, &r.Approved, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *FleetStore) CreateRevision(ctx context.Context, req models.CreateRevisionRequest) (*models.Revision, error) {
	r := models.Revision{
		ID:           uuid.New().String(),
		Plate:        req.Plate,
		Date:         req.Date,
		Inspector:    req.Inspector,
		Engine:       req.Engine,
		Brakes:       req.Brakes,
		Lights:       req.Lights,
		Tires:        req.Tires,
		Bodywork:     req.Bodywork,
		Observations: req.Observations,
		Approved:     req.Approved != nil && *req.Approved,
		CreatedAt:    time.Now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revisiones (id, fecha, placa, inspector, estado_motor, estado_frenos, estado_luces,
		                        estado_llantas, estado_carroceria, observaciones, aprobado, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, r.ID, r.Date, r.Plate, r.Inspector, r.Engine, r.Brakes, r.Lights, r.Tires, r.Bodywork,
		r.Observations, r.Approved, r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *FleetStore) DeleteRevision(ctx context.Context, id string) error {
	return s.deleteWhere(ctx, `DELETE FROM revisiones WHERE id = $1`, id)
}

// ============================================================================
// POLICIES
// ============================================================================

func (s *FleetStore) ListPolicies(ctx context.Context) ([]models.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, numero_poliza, placa, aseguradora, TO_CHAR(fecha_inicio, 'YYYY-MM-DD'),
		       TO_CHAR(fecha_vencimiento, 'YYYY-MM-DD'), tipo_cobertura, estado, created_at
		FROM polizas
		ORDER BY fecha_vencimiento
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	policies := []models.Policy{}
	for rows.Next() {
		var p models.Policy
		if err := rows.Scan(&p.ID, &p.Number, &p.Plate, &p.Insurer, &p.StartDate, &p.EndDate,
			&p.Coverage, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func (s *FleetStore) CreatePolicy(ctx context.Context, req models.CreatePolicyRequest) (*models.Policy, error) {
	p := models.Policy{
		ID:        uuid.New().String(),
		Number:    req.Number,
		Plate:     req.Plate,
		Insurer:   req.Insurer,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Coverage:  req.Coverage,
		Status:    req.Status,
		CreatedAt: time.Now(),
	}
	if p.Status == "" {
		p.Status = models.PolicyActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO polizas (id, numero_poliza, placa, aseguradora, fecha_inicio, fecha_vencimiento,
		                     tipo_cobertura, estado, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.Number, p.Plate, p.Insurer, p.StartDate, p.EndDate, p.Coverage, p.Status, p.CreatedAt)
	if err != nil {
		return nil, uniqueViolation(err)
	}
	return &p, nil
}

func (s *FleetStore) DeletePolicy(ctx context.Context, id string) error {
	return s.deleteWhere(ctx, `DELETE FROM polizas WHERE id = $1`, id)
}

// ============================================================================
// STATS & SNAPSHOTS
// ============================================================================

func (s *FleetStore) Stats(ctx context.Context) (*models.FleetStats, error) {
	var stats models.FleetStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM vehiculos),
			(SELECT COUNT(*) FROM mantenimientos WHERE fecha >= CURRENT_DATE - INTERVAL '30 days'),
			(SELECT COALESCE(SUM(costo), 0) FROM combustible WHERE fecha >= CURRENT_DATE - INTERVAL '30 days'),
			(SELECT COUNT(*) FROM revisiones WHERE NOT aprobado)
	`).Scan(&stats.TotalVehicles, &stats.MaintenanceLast30d, &stats.FuelCostLast30d, &stats.PendingRevisions)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// LoadCollection loads one named collection.
func (s *FleetStore) LoadCollection(ctx context.Context, name string) (Collection, error) {
	switch name {
	case CollectionFuel:
		records, err := s.ListFuel(ctx)
		if err != nil {
			return Collection{}, err
		}
		out := make([]models.Costed, len(records))
		for i, r := range records {
			out[i] = r
		}
		return NewCollection(out), nil
	case CollectionMaintenance:
		records, err := s.ListMaintenance(ctx)
		if err != nil {
			return Collection{}, err
		}
		out := make([]models.Costed, len(records))
		for i, r := range records {
			out[i] = r
		}
		return NewCollection(out), nil
	case CollectionVehicles:
		n, err := s.CountVehicles(ctx)
		if err != nil {
			return Collection{}, err
		}
		return CountOnly(n), nil
	}
	return Collection{}, fmt.Errorf("unknown collection %q", name)
}

// Snapshot loads every collection. Collections that fail to load are left
// out of the snapshot and reported in the returned error.
func (s *FleetStore) Snapshot(ctx context.Context) (Snapshot, error) {
	return loadSnapshot(ctx, s)
}

func loadSnapshot(ctx context.Context, l CollectionLoader) (Snapshot, error) {
	snap := Snapshot{Collections: map[string]Collection{}}
	var errs []error
	for _, name := range []string{CollectionFuel, CollectionMaintenance, CollectionVehicles} {
		c, err := l.LoadCollection(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		snap.Collections[name] = c
	}
	return snap, errors.Join(errs...)
}

func (s *FleetStore) deleteWhere(ctx context.Context, query string, arg string) error {
	res, err := s.db.ExecContext(ctx, query, arg)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// uniqueViolation turns a Postgres unique_violation into ErrDuplicate.
func uniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	}
	return err
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
