package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/LovationAdmin/fleet-api/models"

	"github.com/shopspring/decimal"
)

// Collection names used by the dashboard feeds.
const (
	CollectionFuel        = "combustible"
	CollectionMaintenance = "mantenimientos"
	CollectionVehicles    = "vehiculos"
	CollectionRevisions   = "revisiones"
	CollectionPolicies    = "polizas"
)

type KPIKind string

const (
	// KindCurrency sums costs dated in the current month.
	KindCurrency KPIKind = "currency"
	// KindMonthCount counts records dated in the current month.
	KindMonthCount KPIKind = "month_count"
	// KindTotalCount is the size of the collection, regardless of dates.
	KindTotalCount KPIKind = "total_count"
)

// KPIDefinition binds one dashboard figure to its source and the elements
// that display it. A definition with Derived set has no source: it is the
// sum of every currency KPI computed before it.
type KPIDefinition struct {
	Name     string
	Source   string
	Kind     KPIKind
	Targets  []string
	Required bool
	Derived  bool
}

// DefaultKPIs is the layout of the fleet dashboard.
func DefaultKPIs() []KPIDefinition {
	return []KPIDefinition{
		{Name: "fuel", Source: CollectionFuel, Kind: KindCurrency, Required: true,
			Targets: []string{"kpiCombustibleMes", "kpiCombustibleMes2"}},
		{Name: "maintenance", Source: CollectionMaintenance, Kind: KindCurrency,
			Targets: []string{"kpiMantenimientoMes", "kpiMantenimientoMes2"}},
		{Name: "total", Kind: KindCurrency, Derived: true,
			Targets: []string{"kpiCostoTotalMes", "kpiCostoTotalMes2"}},
		{Name: "activeVehicles", Source: CollectionVehicles, Kind: KindTotalCount,
			Targets: []string{"kpiVehiculosActivos"}},
		{Name: "maintenanceCount", Source: CollectionMaintenance, Kind: KindMonthCount,
			Targets: []string{"kpiMantenimientosMes"}},
	}
}

// Collection is one named feed. Count is the number of items; for feeds
// that carry no costs (vehicles) Records stays nil and only Count is set.
type Collection struct {
	Records []models.Costed
	Count   int
}

func NewCollection(records []models.Costed) Collection {
	return Collection{Records: records, Count: len(records)}
}

func CountOnly(n int) Collection {
	return Collection{Count: n}
}

// Snapshot is a read-only view of the feeds at one point in time. A name
// absent from Collections means the feed has not been loaded.
type Snapshot struct {
	Collections map[string]Collection
}

func (s Snapshot) Get(name string) (Collection, bool) {
	if s.Collections == nil {
		return Collection{}, false
	}
	c, ok := s.Collections[name]
	return c, ok
}

// With returns a copy of the snapshot with name set to c.
func (s Snapshot) With(name string, c Collection) Snapshot {
	out := make(map[string]Collection, len(s.Collections)+1)
	for k, v := range s.Collections {
		out[k] = v
	}
	out[name] = c
	return Snapshot{Collections: out}
}

// ============================================================================
// DATE & SUM HELPERS
// ============================================================================

// MonthStart returns midnight of the first day of now's month, in now's location.
func MonthStart(now time.Time) time.Time {
	y, m, _ := now.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
}

var recordDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"02/01/2006",
}

// ParseRecordDate reads the date formats found in the fuel and maintenance
// sheets. Values without a zone are read in loc.
func ParseRecordDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range recordDateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func datedSince(r models.Costed, since time.Time) bool {
	t, err := ParseRecordDate(r.CostDate(), since.Location())
	if err != nil {
		return false
	}
	return !t.Before(since)
}

// SumSince adds the cost of every record dated at or after since.
// Invalid costs count as zero.
func SumSince(records []models.Costed, since time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		if r == nil || !datedSince(r, since) {
			continue
		}
		total = total.Add(r.CostAmount().Amount())
	}
	return total
}

// CountSince counts records dated at or after since.
func CountSince(records []models.Costed, since time.Time) int {
	n := 0
	for _, r := range records {
		if r != nil && datedSince(r, since) {
			n++
		}
	}
	return n
}

// ============================================================================
// COMPUTATION
// ============================================================================

// KPIValue is one computed figure.
type KPIValue struct {
	Name   string          `json:"name"`
	Kind   KPIKind         `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
	Text   string          `json:"text"`
}

// missingSources lists the distinct sources referenced by defs that snap lacks.
func missingSources(defs []KPIDefinition, snap Snapshot) []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range defs {
		if d.Derived || d.Source == "" || seen[d.Source] {
			continue
		}
		seen[d.Source] = true
		if _, ok := snap.Get(d.Source); !ok {
			out = append(out, d.Source)
		}
	}
	return out
}

// computeKPIs evaluates defs in order. Missing sources evaluate as empty.
func computeKPIs(defs []KPIDefinition, snap Snapshot, since time.Time, f *CurrencyFormatter) []KPIValue {
	values := make([]KPIValue, 0, len(defs))
	currencyTotal := decimal.Zero

	for _, d := range defs {
		v := KPIValue{Name: d.Name, Kind: d.Kind}
		src, _ := snap.Get(d.Source)

		switch {
		case d.Derived:
			v.Amount = currencyTotal
		case d.Kind == KindCurrency:
			v.Amount = SumSince(src.Records, since)
			currencyTotal = currencyTotal.Add(v.Amount)
		case d.Kind == KindMonthCount:
			v.Amount = decimal.NewFromInt(int64(CountSince(src.Records, since)))
		case d.Kind == KindTotalCount:
			v.Amount = decimal.NewFromInt(int64(src.Count))
		}

		if d.Kind == KindCurrency {
			v.Text = f.Format(v.Amount)
		} else {
			v.Text = v.Amount.String()
		}
		values = append(values, v)
	}
	return values
}
