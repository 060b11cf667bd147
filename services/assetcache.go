package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/LovationAdmin/fleet-api/metrics"
)

// DefaultNetworkFirst lists URL fragments that always go to the network first.
var DefaultNetworkFirst = []string{"script.google.com/macros"}

var ErrCacheMiss = errors.New("asset not cached")

type cachedResponse struct {
	status int
	header http.Header
	body   []byte
}

func (c cachedResponse) toResponse(req *http.Request) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", c.status, http.StatusText(c.status)),
		StatusCode:    c.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        c.header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(c.body)),
		ContentLength: int64(len(c.body)),
		Request:       req,
	}
}

// CacheStore holds named response caches keyed by URL. A store opened on a
// directory writes every cache through to <dir>/<name>.json, so a process
// started with a new cache name still sees the previous version and Activate
// can remove it.
type CacheStore struct {
	mu     sync.RWMutex
	caches map[string]map[string]cachedResponse
	dir    string
}

func NewCacheStore() *CacheStore {
	return &CacheStore{caches: make(map[string]map[string]cachedResponse)}
}

type storedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// OpenCacheStore loads every cache saved under dir, creating dir if needed.
func OpenCacheStore(dir string) (*CacheStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("asset cache dir: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("asset cache dir: %w", err)
	}

	s := NewCacheStore()
	s.dir = dir
	for _, e := range entries {
		file := e.Name()
		if e.IsDir() || filepath.Ext(file) != ".json" {
			continue
		}
		name, err := url.PathUnescape(strings.TrimSuffix(file, ".json"))
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, file))
		if err != nil {
			return nil, err
		}
		var stored map[string]storedResponse
		if err := json.Unmarshal(data, &stored); err != nil {
			log.Printf("⚠️ Skipping unreadable asset cache %s: %v", file, err)
			continue
		}
		c := make(map[string]cachedResponse, len(stored))
		for key, r := range stored {
			c[key] = cachedResponse{status: r.Status, header: r.Header, body: r.Body}
		}
		s.caches[name] = c
	}
	return s, nil
}

func (s *CacheStore) path(name string) string {
	return filepath.Join(s.dir, url.PathEscape(name)+".json")
}

// save writes one cache to disk. Callers hold s.mu.
func (s *CacheStore) save(name string) {
	if s.dir == "" {
		return
	}
	stored := make(map[string]storedResponse, len(s.caches[name]))
	for key, r := range s.caches[name] {
		stored[key] = storedResponse{Status: r.status, Header: r.header, Body: r.body}
	}
	data, err := json.Marshal(stored)
	if err == nil {
		tmp := s.path(name) + ".tmp"
		if err = os.WriteFile(tmp, data, 0o644); err == nil {
			err = os.Rename(tmp, s.path(name))
		}
	}
	if err != nil {
		log.Printf("⚠️ Failed to persist asset cache %s: %v", name, err)
	}
}

func (s *CacheStore) put(name, key string, r cachedResponse) {
	s.putAll(name, map[string]cachedResponse{key: r})
}

func (s *CacheStore) putAll(name string, entries map[string]cachedResponse) {
	if len(entries) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	if !ok {
		c = make(map[string]cachedResponse)
		s.caches[name] = c
	}
	for key, r := range entries {
		c[key] = r
	}
	s.save(name)
}

func (s *CacheStore) match(name, key string) (cachedResponse, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.caches[name][key]
	return r, ok
}

func (s *CacheStore) keys(name string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.caches[name]))
	for k := range s.caches[name] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Names lists the caches in the store.
func (s *CacheStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.caches))
	for name := range s.caches {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Delete drops a whole cache.
func (s *CacheStore) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caches[name]
	delete(s.caches, name)
	if ok && s.dir != "" {
		if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Printf("⚠️ Failed to remove asset cache %s: %v", name, err)
		}
	}
	return ok
}

type AssetCacheOptions struct {
	Name         string
	BaseURL      string
	Assets       []string
	NetworkFirst []string
	Store        *CacheStore
	Transport    http.RoundTripper
}

// AssetCache is an http.RoundTripper that serves a precached asset list
// cache-first and a few API hosts network-first.
type AssetCache struct {
	name         string
	base         *url.URL
	assets       []string
	networkFirst []string
	store        *CacheStore
	next         http.RoundTripper
}

func NewAssetCache(opts AssetCacheOptions) (*AssetCache, error) {
	if opts.Name == "" {
		return nil, errors.New("asset cache needs a name")
	}
	c := &AssetCache{
		name:         opts.Name,
		assets:       opts.Assets,
		networkFirst: opts.NetworkFirst,
		store:        opts.Store,
		next:         opts.Transport,
	}
	if c.networkFirst == nil {
		c.networkFirst = DefaultNetworkFirst
	}
	if c.store == nil {
		c.store = NewCacheStore()
	}
	if c.next == nil {
		c.next = http.DefaultTransport
	}
	if opts.BaseURL != "" {
		base, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid asset base URL: %w", err)
		}
		c.base = base
	}
	return c, nil
}

func (c *AssetCache) Name() string { return c.name }

// Keys lists the URLs stored in the current cache.
func (c *AssetCache) Keys() []string { return c.store.keys(c.name) }

func (c *AssetCache) resolve(asset string) (string, error) {
	u, err := url.Parse(asset)
	if err != nil {
		return "", err
	}
	if !u.IsAbs() {
		if c.base == nil {
			return "", fmt.Errorf("relative asset %q without a base URL", asset)
		}
		u = c.base.ResolveReference(u)
	}
	return cacheKey(u), nil
}

func cacheKey(u *url.URL) string {
	k := *u
	k.Fragment = ""
	return k.String()
}

// Install fetches every asset and stores them. Nothing is stored unless every
// fetch succeeds.
func (c *AssetCache) Install(ctx context.Context) error {
	fetched := make(map[string]cachedResponse, len(c.assets))
	for _, asset := range c.assets {
		key, err := c.resolve(asset)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
		if err != nil {
			return err
		}
		resp, err := c.next.RoundTrip(req)
		if err != nil {
			return fmt.Errorf("precache %s: %w", key, err)
		}
		entry, err := readCached(resp)
		if err != nil {
			return fmt.Errorf("precache %s: %w", key, err)
		}
		if entry.status != http.StatusOK {
			return fmt.Errorf("precache %s: status %d", key, entry.status)
		}
		fetched[key] = entry
	}

	c.store.putAll(c.name, fetched)
	log.Printf("📦 Asset cache %s installed with %d assets", c.name, len(fetched))
	return nil
}

// Activate deletes every cache except the current one and returns the names removed.
func (c *AssetCache) Activate() []string {
	var removed []string
	for _, name := range c.store.Names() {
		if name == c.name {
			continue
		}
		if c.store.Delete(name) {
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		log.Printf("🧹 Removed old asset caches: %s", strings.Join(removed, ", "))
	}
	return removed
}

// IsNetworkFirst reports whether rawURL must be tried on the network first.
func (c *AssetCache) IsNetworkFirst(rawURL string) bool {
	for _, p := range c.networkFirst {
		if strings.Contains(rawURL, p) {
			return true
		}
	}
	return false
}

func (c *AssetCache) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return c.next.RoundTrip(req)
	}
	key := cacheKey(req.URL)

	if c.IsNetworkFirst(key) {
		return c.networkFirstTrip(req, key)
	}

	if entry, ok := c.store.match(c.name, key); ok {
		metrics.CacheLookups.WithLabelValues("cache_first", "hit").Inc()
		return entry.toResponse(req), nil
	}
	metrics.CacheLookups.WithLabelValues("cache_first", "miss").Inc()
	return c.next.RoundTrip(req)
}

func (c *AssetCache) networkFirstTrip(req *http.Request, key string) (*http.Response, error) {
	resp, err := c.next.RoundTrip(req)
	if err == nil {
		metrics.CacheLookups.WithLabelValues("network_first", "network").Inc()
		if resp.StatusCode != http.StatusOK {
			return resp, nil
		}
		entry, readErr := readCached(resp)
		if readErr != nil {
			return nil, readErr
		}
		c.store.put(c.name, key, entry)
		return entry.toResponse(req), nil
	}

	if entry, ok := c.store.match(c.name, key); ok {
		log.Printf("⚠️ Network failed for %s, serving cached copy: %v", req.URL.Host, err)
		metrics.CacheLookups.WithLabelValues("network_first", "fallback").Inc()
		return entry.toResponse(req), nil
	}
	metrics.CacheLookups.WithLabelValues("network_first", "miss").Inc()
	return nil, err
}

// Lookup returns the cached response for req without touching the network.
func (c *AssetCache) Lookup(req *http.Request) (*http.Response, error) {
	entry, ok := c.store.match(c.name, cacheKey(req.URL))
	if !ok {
		return nil, ErrCacheMiss
	}
	return entry.toResponse(req), nil
}

// FindByFilename returns the cached URL whose last path element is file.
func (c *AssetCache) FindByFilename(file string) (string, bool) {
	for _, key := range c.Keys() {
		u, err := url.Parse(key)
		if err != nil {
			continue
		}
		if path.Base(u.Path) == file {
			return key, true
		}
	}
	return "", false
}

func readCached(resp *http.Response) (cachedResponse, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cachedResponse{}, err
	}
	return cachedResponse{status: resp.StatusCode, header: resp.Header.Clone(), body: body}, nil
}
