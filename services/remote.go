package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/LovationAdmin/fleet-api/models"
)

// collectionActions maps collection names to the Apps Script actions that
// return them.
var collectionActions = map[string]string{
	CollectionFuel:        "getCombustible",
	CollectionMaintenance: "getMantenimientos",
	CollectionVehicles:    "getVehiculos",
	CollectionRevisions:   "getRevisiones",
	CollectionPolicies:    "getPolizas",
}

// ActionCollection returns the collection served by an Apps Script action.
func ActionCollection(action string) (string, bool) {
	for name, a := range collectionActions {
		if a == action {
			return name, true
		}
	}
	return "", false
}

// RemoteLoader reads collections from a remote backend. URLs ending in
// /exec are treated as Apps Script deployments and queried with ?action=;
// anything else is a REST base where each collection lives under its name.
type RemoteLoader struct {
	base   *url.URL
	client *http.Client
}

// NewRemoteLoader builds a loader for baseURL. transport is usually the
// asset cache so the Apps Script calls fall back to cached data offline.
func NewRemoteLoader(baseURL string, transport http.RoundTripper) (*RemoteLoader, error) {
	u, err := url.Parse(baseURL)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("invalid remote data URL %q", baseURL)
	}
	return &RemoteLoader{
		base:   u,
		client: &http.Client{Transport: transport, Timeout: 20 * time.Second},
	}, nil
}

type remoteEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// remoteRecord keeps only what the KPIs read; remote rows carry loosely typed
// ids and extra columns.
type remoteRecord struct {
	Date string      `json:"fecha"`
	Cost models.Cost `json:"costo"`
}

func (r remoteRecord) CostDate() string        { return r.Date }
func (r remoteRecord) CostAmount() models.Cost { return r.Cost }

func (l *RemoteLoader) collectionURL(name string) (string, error) {
	action, ok := collectionActions[name]
	if !ok {
		return "", fmt.Errorf("unknown collection %q", name)
	}
	u := *l.base
	if strings.HasSuffix(u.Path, "/exec") {
		q := u.Query()
		q.Set("action", action)
		u.RawQuery = q.Encode()
	} else {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + name
	}
	return u.String(), nil
}

// Fetch returns the raw data array of a collection.
func (l *RemoteLoader) Fetch(ctx context.Context, name string) (json.RawMessage, error) {
	target, err := l.collectionURL(name)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", name, resp.StatusCode)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return trimmed, nil
	}

	var env remoteEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if !env.Success {
		if env.Error == "" {
			env.Error = "remote reported failure"
		}
		return nil, fmt.Errorf("fetch %s: %s", name, env.Error)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return json.RawMessage("[]"), nil
	}
	return env.Data, nil
}

func (l *RemoteLoader) LoadCollection(ctx context.Context, name string) (Collection, error) {
	data, err := l.Fetch(ctx, name)
	if err != nil {
		return Collection{}, err
	}

	if name == CollectionVehicles {
		var rows []json.RawMessage
		if err := json.Unmarshal(data, &rows); err != nil {
			return Collection{}, fmt.Errorf("decode %s: %w", name, err)
		}
		return CountOnly(len(rows)), nil
	}

	var rows []remoteRecord
	if err := json.Unmarshal(data, &rows); err != nil {
		return Collection{}, fmt.Errorf("decode %s: %w", name, err)
	}
	records := make([]models.Costed, len(rows))
	for i, r := range rows {
		records[i] = r
	}
	return NewCollection(records), nil
}

func (l *RemoteLoader) Snapshot(ctx context.Context) (Snapshot, error) {
	return loadSnapshot(ctx, l)
}

// FirstAvailable tries each loader in order and returns the first collection
// that loads.
type FirstAvailable []CollectionLoader

func (f FirstAvailable) LoadCollection(ctx context.Context, name string) (Collection, error) {
	var errs []error
	for _, l := range f {
		c, err := l.LoadCollection(ctx, name)
		if err == nil {
			return c, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Collection{}, fmt.Errorf("no loader for %s", name)
	}
	return Collection{}, errors.Join(errs...)
}

func (f FirstAvailable) Snapshot(ctx context.Context) (Snapshot, error) {
	return loadSnapshot(ctx, f)
}
