package models

import "time"

// ============================================================================
// FLEET RECORDS
// ============================================================================

// JSON names follow the spreadsheet columns the dashboard was built on.

type Vehicle struct {
	ID        string    `json:"id"`
	Plate     string    `json:"placa" binding:"required"`
	Make      string    `json:"marca" binding:"required"`
	Model     string    `json:"modelo" binding:"required"`
	Year      int       `json:"ano" binding:"required"`
	Color     string    `json:"color"`
	Owner     string    `json:"propietario"`
	Policy    string    `json:"poliza,omitempty"`
	Insurer   string    `json:"seguro,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type FuelRecord struct {
	ID        string    `json:"id"`
	Plate     string    `json:"placa"`
	Date      string    `json:"fecha"`
	Liters    float64   `json:"litros"`
	Cost      Cost      `json:"costo"`
	Odometer  *int      `json:"kilometraje,omitempty"`
	Station   string    `json:"estacion,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (r FuelRecord) CostDate() string { return r.Date }
func (r FuelRecord) CostAmount() Cost { return r.Cost }

type MaintenanceRecord struct {
	ID          string    `json:"id"`
	Plate       string    `json:"placa"`
	Date        string    `json:"fecha"`
	Type        string    `json:"tipo"`
	Description string    `json:"descripcion"`
	Cost        Cost      `json:"costo"`
	Odometer    *int      `json:"kilometraje,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r MaintenanceRecord) CostDate() string { return r.Date }
func (r MaintenanceRecord) CostAmount() Cost { return r.Cost }

// Revision is a periodic inspection. Approved is false until the vehicle
// passes, which is what the pending count in FleetStats reports.
type Revision struct {
	ID           string    `json:"id"`
	Plate        string    `json:"placa"`
	Date         string    `json:"fecha"`
	Inspector    string    `json:"inspector"`
	Engine       string    `json:"estado_motor"`
	Brakes       string    `json:"estado_frenos"`
	Lights       string    `json:"estado_luces"`
	Tires        string    `json:"estado_llantas"`
	Bodywork     string    `json:"estado_carroceria"`
	Observations string    `json:"observaciones,omitempty"`
	Approved     bool      `json:"aprobado"`
	CreatedAt    time.Time `json:"created_at"`
}

const PolicyActive = "Activa"

type Policy struct {
	ID        string    `json:"id"`
	Number    string    `json:"numero_poliza"`
	Plate     string    `json:"placa"`
	Insurer   string    `json:"aseguradora"`
	StartDate string    `json:"fecha_inicio"`
	EndDate   string    `json:"fecha_vencimiento"`
	Coverage  string    `json:"tipo_cobertura"`
	Status    string    `json:"estado"`
	CreatedAt time.Time `json:"created_at"`
}

// ============================================================================
// REQUESTS
// ============================================================================

// UpdateVehicleRequest is a partial update; nil fields are left alone.
type UpdateVehicleRequest struct {
	Make    *string `json:"marca"`
	Model   *string `json:"modelo"`
	Year    *int    `json:"ano"`
	Color   *string `json:"color"`
	Owner   *string `json:"propietario"`
	Policy  *string `json:"poliza"`
	Insurer *string `json:"seguro"`
}

// Empty reports whether the request changes nothing.
func (r UpdateVehicleRequest) Empty() bool {
	return r.Make == nil && r.Model == nil && r.Year == nil && r.Color == nil &&
		r.Owner == nil && r.Policy == nil && r.Insurer == nil
}

type CreateFuelRequest struct {
	Plate    string  `json:"placa" binding:"required"`
	Date     string  `json:"fecha" binding:"required"`
	Liters   float64 `json:"litros"`
	Cost     Cost    `json:"costo"`
	Odometer *int    `json:"kilometraje"`
	Station  string  `json:"estacion"`
}

type CreateMaintenanceRequest struct {
	Plate       string `json:"placa" binding:"required"`
	Date        string `json:"fecha" binding:"required"`
	Type        string `json:"tipo" binding:"required"`
	Description string `json:"descripcion"`
	Cost        Cost   `json:"costo"`
	Odometer    *int   `json:"kilometraje"`
}

type CreateRevisionRequest struct {
	Plate        string `json:"placa" binding:"required"`
	Date         string `json:"fecha" binding:"required"`
	Inspector    string `json:"inspector" binding:"required"`
	Engine       string `json:"estado_motor" binding:"required"`
	Brakes       string `json:"estado_frenos" binding:"required"`
	Lights       string `json:"estado_luces" binding:"required"`
	Tires        string `json:"estado_llantas" binding:"required"`
	Bodywork     string `json:"estado_carroceria" binding:"required"`
	Observations string `json:"observaciones"`
	Approved     *bool  `json:"aprobado" binding:"required"`
}

type CreatePolicyRequest struct {
	Number    string `json:"numero_poliza" binding:"required"`
	Plate     string `json:"placa" binding:"required"`
	Insurer   string `json:"aseguradora" binding:"required"`
	StartDate string `json:"fecha_inicio" binding:"required"`
	EndDate   string `json:"fecha_vencimiento" binding:"required"`
	Coverage  string `json:"tipo_cobertura" binding:"required"`
	Status    string `json:"estado"`
}

// FleetStats is the summary the original dashboard header showed.
type FleetStats struct {
	TotalVehicles      int     `json:"total_vehiculos"`
	MaintenanceLast30d int     `json:"mantenimientos_mes"`
	FuelCostLast30d    float64 `json:"gasto_combustible_mes"`
	PendingRevisions   int     `json:"revisiones_pendientes"`
}
