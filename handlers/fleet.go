package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/LovationAdmin/fleet-api/models"
	"github.com/LovationAdmin/fleet-api/services"
	"github.com/LovationAdmin/fleet-api/utils"

	"github.com/gin-gonic/gin"
)

// FleetRepository is the storage the fleet endpoints need.
type FleetRepository interface {
	ListVehicles(ctx context.Context) ([]models.Vehicle, error)
	CreateVehicle(ctx context.Context, v models.Vehicle) (*models.Vehicle, error)
	UpdateVehicle(ctx context.Context, plate string, req models.UpdateVehicleRequest) error
	DeleteVehicle(ctx context.Context, plate string) error

	ListFuel(ctx context.Context) ([]models.FuelRecord, error)
	CreateFuel(ctx context.Context, req models.CreateFuelRequest) (*models.FuelRecord, error)
	DeleteFuel(ctx context.Context, id string) error

	ListMaintenance(ctx context.Context) ([]models.MaintenanceRecord, error)
	CreateMaintenance(ctx context.Context, req models.CreateMaintenanceRequest) (*models.MaintenanceRecord, error)
	DeleteMaintenance(ctx context.Context, id string) error

	ListRevisions(ctx context.Context) ([]models.Revision, error)
	CreateRevision(ctx context.Context, req models.CreateRevisionRequest) (*models.Revision, error)
	DeleteRevision(ctx context.Context, id string) error

	ListPolicies(ctx context.Context) ([]models.Policy, error)
	CreatePolicy(ctx context.Context, req models.CreatePolicyRequest) (*models.Policy, error)
	DeletePolicy(ctx context.Context, id string) error

	Stats(ctx context.Context) (*models.FleetStats, error)
}

// ChangeNotifier is told when a collection changes so open dashboards can refresh.
type ChangeNotifier interface {
	BroadcastChange(collection string)
}

type FleetHandler struct {
	Store    FleetRepository
	Notifier ChangeNotifier
}

func (h *FleetHandler) changed(collection string) {
	if h.Notifier != nil {
		h.Notifier.BroadcastChange(collection)
	}
}

// ============================================================================
// VEHICLES
// ============================================================================

func (h *FleetHandler) ListVehicles(c *gin.Context) {
	vehicles, err := h.Store.ListVehicles(c.Request.Context())
	if err != nil {
		log.Printf("❌ List vehicles: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load vehicles"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": vehicles})
}

func (h *FleetHandler) CreateVehicle(c *gin.Context) {
	var req models.Vehicle
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Plate = strings.ToUpper(strings.TrimSpace(req.Plate))

	v, err := h.Store.CreateVehicle(c.Request.Context(), req)
	if errors.Is(err, services.ErrDuplicate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "La placa ya existe"})
		return
	}
	if err != nil {
		utils.SafeError("Create vehicle %s: %v", req.Plate, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create vehicle"})
		return
	}
	utils.LogFleetAction("create", services.CollectionVehicles, v.Plate)
	h.changed(services.CollectionVehicles)
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": v})
}

func (h *FleetHandler) UpdateVehicle(c *gin.Context) {
	var req models.UpdateVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No hay campos para actualizar"})
		return
	}
	plate := strings.ToUpper(c.Param("placa"))

	err := h.Store.UpdateVehicle(c.Request.Context(), plate, req)
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehículo no encontrado"})
		return
	}
	if err != nil {
		utils.SafeError("Update vehicle %s: %v", plate, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update vehicle"})
		return
	}
	utils.LogFleetAction("update", services.CollectionVehicles, plate)
	h.changed(services.CollectionVehicles)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *FleetHandler) DeleteVehicle(c *gin.Context) {
	h.delete(c, services.CollectionVehicles, strings.ToUpper(c.Param("placa")), h.Store.DeleteVehicle)
}

// ============================================================================
// FUEL
// ============================================================================

func (h *FleetHandler) ListFuel(c *gin.Context) {
	records, err := h.Store.ListFuel(c.Request.Context())
	if err != nil {
		log.Printf("❌ List fuel: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load fuel records"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": records})
}

func (h *FleetHandler) CreateFuel(c *gin.Context) {
	var req models.CreateFuelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, ok := normalizeDate(c, req.Date)
	if !ok {
		return
	}
	req.Date = date
	req.Plate = strings.ToUpper(strings.TrimSpace(req.Plate))

	r, err := h.Store.CreateFuel(c.Request.Context(), req)
	if err != nil {
		log.Printf("❌ Create fuel record: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create fuel record"})
		return
	}
	utils.LogFleetAction("create", services.CollectionFuel, r.ID)
	h.changed(services.CollectionFuel)
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": r})
}

func (h *FleetHandler) DeleteFuel(c *gin.Context) {
	h.delete(c, services.CollectionFuel, c.Param("id"), h.Store.DeleteFuel)
}

// ============================================================================
// MAINTENANCE
// ============================================================================

func (h *FleetHandler) ListMaintenance(c *gin.Context) {
	records, err := h.Store.ListMaintenance(c.Request.Context())
	if err != nil {
		log.Printf("❌ List maintenance: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load maintenance records"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": records})
}

func (h *FleetHandler) CreateMaintenance(c *gin.Context) {
	var req models.CreateMaintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, ok := normalizeDate(c, req.Date)
	if !ok {
		return
	}
	req.Date = date
	req.Plate = strings.ToUpper(strings.TrimSpace(req.Plate))

	r, err := h.Store.CreateMaintenance(c.Request.Context(), req)
	if err != nil {
		log.Printf("❌ Create maintenance record: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create maintenance record"})
		return
	}
	utils.LogFleetAction("create", services.CollectionMaintenance, r.ID)
	h.changed(services.CollectionMaintenance)
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": r})
}

func (h *FleetHandler) DeleteMaintenance(c *gin.Context) {
	h.delete(c, services.CollectionMaintenance, c.Param("id"), h.Store.DeleteMaintenance)
}

// ============================================================================
// REVISIONS
// ============================================================================

func (h *FleetHandler) ListRevisions(c *gin.Context) {
	records, err := h.Store.ListRevisions(c.Request.Context())
	if err != nil {
		log.Printf("❌ List revisions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load revisions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": records})
}

func (h *FleetHandler) CreateRevision(c *gin.Context) {
	var req models.CreateRevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, ok := normalizeDate(c, req.Date)
	if !ok {
		return
	}
	req.Date = date
	req.Plate = strings.ToUpper(strings.TrimSpace(req.Plate))

	r, err := h.Store.CreateRevision(c.Request.Context(), req)
	if err != nil {
		log.Printf("❌ Create revision: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create revision"})
		return
	}
	utils.LogFleetAction("create", services.CollectionRevisions, r.ID)
	h.changed(services.CollectionRevisions)
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": r})
}

func (h *FleetHandler) DeleteRevision(c *gin.Context) {
	h.delete(c, services.CollectionRevisions, c.Param("id"), h.Store.DeleteRevision)
}

// ============================================================================
// POLICIES
// ============================================================================

func (h *FleetHandler) ListPolicies(c *gin.Context) {
	policies, err := h.Store.ListPolicies(c.Request.Context())
	if err != nil {
		log.Printf("❌ List policies: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load policies"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": policies})
}

func (h *FleetHandler) CreatePolicy(c *gin.Context) {
	var req models.CreatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, ok := normalizeDate(c, req.StartDate)
	if !ok {
		return
	}
	end, ok := normalizeDate(c, req.EndDate)
	if !ok {
		return
	}
	req.StartDate, req.EndDate = start, end
	req.Plate = strings.ToUpper(strings.TrimSpace(req.Plate))
	req.Number = strings.TrimSpace(req.Number)

	p, err := h.Store.CreatePolicy(c.Request.Context(), req)
	if errors.Is(err, services.ErrDuplicate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "El número de póliza ya existe"})
		return
	}
	if err != nil {
		log.Printf("❌ Create policy: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create policy"})
		return
	}
	utils.LogFleetAction("create", services.CollectionPolicies, p.Number)
	h.changed(services.CollectionPolicies)
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": p})
}

func (h *FleetHandler) DeletePolicy(c *gin.Context) {
	h.delete(c, services.CollectionPolicies, c.Param("id"), h.Store.DeletePolicy)
}

// ============================================================================
// STATS & APPS SCRIPT COMPATIBILITY
// ============================================================================

func (h *FleetHandler) Stats(c *gin.Context) {
	stats, err := h.Store.Stats(c.Request.Context())
	if err != nil {
		log.Printf("❌ Fleet stats: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": stats})
}

// Exec answers the ?action= queries the spreadsheet-backed dashboard used.
func (h *FleetHandler) Exec(c *gin.Context) {
	action := c.Query("action")
	collection, ok := services.ActionCollection(action)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Unknown action: " + action})
		return
	}

	ctx := c.Request.Context()
	var (
		data any
		err  error
	)
	switch collection {
	case services.CollectionVehicles:
		data, err = h.Store.ListVehicles(ctx)
	case services.CollectionFuel:
		data, err = h.Store.ListFuel(ctx)
	case services.CollectionMaintenance:
		data, err = h.Store.ListMaintenance(ctx)
	case services.CollectionRevisions:
		data, err = h.Store.ListRevisions(ctx)
	case services.CollectionPolicies:
		data, err = h.Store.ListPolicies(ctx)
	}
	if err != nil {
		log.Printf("❌ Exec %s: %v", action, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func (h *FleetHandler) delete(c *gin.Context, collection, key string, del func(context.Context, string) error) {
	err := del(c.Request.Context(), key)
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
		return
	}
	if err != nil {
		log.Printf("❌ Delete from %s: %v", collection, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete record"})
		return
	}
	utils.LogFleetAction("delete", collection, key)
	h.changed(collection)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// normalizeDate accepts any of the sheet date formats and stores ISO dates.
func normalizeDate(c *gin.Context, raw string) (string, bool) {
	t, err := services.ParseRecordDate(raw, time.Local)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid fecha: " + raw})
		return "", false
	}
	return t.Format("2006-01-02"), true
}
