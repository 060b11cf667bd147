package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteLoader_AppsScriptEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/macros/s/abc/exec", r.URL.Path)
		switch r.URL.Query().Get("action") {
		case "getCombustible":
			_, _ = w.Write([]byte(`{"success":true,"data":[
				{"id":1,"placa":"ABC123","fecha":"2026-10-02","costo":"25000"},
				{"id":2,"placa":"ABC123","fecha":"2026-10-09","costo":null},
				{"id":3,"placa":"XYZ789","fecha":"2026-09-30","costo":5000}
			]}`))
		case "getVehiculos":
			_, _ = w.Write([]byte(`{"success":true,"data":[{"placa":"ABC123"},{"placa":"XYZ789"}]}`))
		case "getMantenimientos":
			_, _ = w.Write([]byte(`{"success":false,"error":"sheet locked"}`))
		}
	}))
	defer srv.Close()

	l, err := NewRemoteLoader(srv.URL+"/macros/s/abc/exec", srv.Client().Transport)
	require.NoError(t, err)

	fuel, err := l.LoadCollection(context.Background(), CollectionFuel)
	require.NoError(t, err)
	assert.Equal(t, 3, fuel.Count)
	assert.True(t, SumSince(fuel.Records, MonthStart(testNow)).Equal(decimal.NewFromInt(25000)))

	vehicles, err := l.LoadCollection(context.Background(), CollectionVehicles)
	require.NoError(t, err)
	assert.Equal(t, 2, vehicles.Count)

	_, err = l.LoadCollection(context.Background(), CollectionMaintenance)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sheet locked")

	snap, err := l.Snapshot(context.Background())
	assert.Error(t, err)
	_, ok := snap.Get(CollectionFuel)
	assert.True(t, ok)
	_, ok = snap.Get(CollectionMaintenance)
	assert.False(t, ok)
}

func TestRemoteLoader_RESTBareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/mantenimientos", r.URL.Path)
		_, _ = w.Write([]byte(`[{"fecha":"2026-10-01","costo":40000}]`))
	}))
	defer srv.Close()

	l, err := NewRemoteLoader(srv.URL+"/api/", nil)
	require.NoError(t, err)

	c, err := l.LoadCollection(context.Background(), CollectionMaintenance)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Count)
}

func TestRemoteLoader_Errors(t *testing.T) {
	_, err := NewRemoteLoader("not a url", nil)
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	l, err := NewRemoteLoader(srv.URL, nil)
	require.NoError(t, err)
	_, err = l.LoadCollection(context.Background(), CollectionFuel)
	assert.Error(t, err)
	_, err = l.LoadCollection(context.Background(), "bitacora")
	assert.Error(t, err)
}

func TestActionCollection(t *testing.T) {
	name, ok := ActionCollection("getCombustible")
	assert.True(t, ok)
	assert.Equal(t, CollectionFuel, name)
	name, ok = ActionCollection("getRevisiones")
	assert.True(t, ok)
	assert.Equal(t, CollectionRevisions, name)
	name, ok = ActionCollection("getPolizas")
	assert.True(t, ok)
	assert.Equal(t, CollectionPolicies, name)
	_, ok = ActionCollection("deleteEverything")
	assert.False(t, ok)
}

type failingLoader struct{}

func (failingLoader) LoadCollection(ctx context.Context, name string) (Collection, error) {
	return Collection{}, errors.New("offline")
}

func TestFirstAvailable(t *testing.T) {
	loaders := FirstAvailable{failingLoader{}, &stubLoader{data: map[string]Collection{
		CollectionVehicles: CountOnly(4),
	}}}

	c, err := loaders.LoadCollection(context.Background(), CollectionVehicles)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Count)

	_, err = FirstAvailable{failingLoader{}}.LoadCollection(context.Background(), CollectionFuel)
	assert.Error(t, err)
	_, err = FirstAvailable{}.LoadCollection(context.Background(), CollectionFuel)
	assert.Error(t, err)
}
