package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/LovationAdmin/fleet-api/services"

	"github.com/gin-gonic/gin"
)

// StaticHandler serves the built dashboard from Root. Unlike http.FileServer
// it never redirects /index.html, so rewritten requests are answered in place.
type StaticHandler struct {
	Root string
}

func (h *StaticHandler) Serve(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}

	name := path.Clean("/" + c.Request.URL.Path)
	full := filepath.Join(h.Root, filepath.FromSlash(name))

	f, info, err := openFile(full)
	if err == nil && info.IsDir() {
		f.Close()
		f, info, err = openFile(filepath.Join(full, "index.html"))
	}
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	defer f.Close()

	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}

func openFile(name string) (*os.File, os.FileInfo, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, info, nil
}

// AssetHandler serves cross-origin assets held by the asset cache, such as
// the spreadsheet library the reports page loads.
type AssetHandler struct {
	Cache *services.AssetCache
}

func (h *AssetHandler) Vendor(c *gin.Context) {
	key, ok := h.Cache.FindByFilename(c.Param("file"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Asset not cached"})
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, key, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.Cache.RoundTrip(req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, services.ErrCacheMiss) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	defer resp.Body.Close()

	for _, k := range []string{"Content-Type", "Cache-Control", "ETag", "Last-Modified"} {
		if v := resp.Header.Get(k); v != "" {
			c.Header(k, v)
		}
	}
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		log.Printf("⚠️ Vendor asset %s: %v", key, err)
	}
}

// CacheStatus lists what the asset cache holds.
func (h *AssetHandler) CacheStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cache": h.Cache.Name(), "assets": h.Cache.Keys()})
}
