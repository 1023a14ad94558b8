package blobstore

import (
	"errors"
	"net/http"
	"path"

	"github.com/labstack/echo/v4"
)

// listResponse is the JSON envelope returned by the list endpoint.
type listResponse struct {
	Items []*BlobMetadata `json:"items"`
	Total int             `json:"total"`
}

// BlobHandler exposes the published exports over HTTP.
type BlobHandler struct {
	store Store
}

// NewBlobHandler creates a new BlobHandler.
func NewBlobHandler(store Store) *BlobHandler {
	return &BlobHandler{store: store}
}

// RegisterRoutes mounts the export routes on the supplied Echo group.
func (h *BlobHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/exports", h.handleList)
	g.GET("/exports/*", h.handleDownload)
	g.DELETE("/exports/*", h.handleDelete)
}

func (h *BlobHandler) handleList(c echo.Context) error {
	items, err := h.store.List(c.Request().Context(), c.QueryParam("prefix"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, listResponse{Items: items, Total: len(items)})
}

func (h *BlobHandler) handleDownload(c echo.Context) error {
	key := c.Param("*")
	if err := ValidateKey(key); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if c.QueryParam("metadata") == "true" {
		meta, err := h.store.Stat(c.Request().Context(), key)
		if err != nil {
			return storeError(c, err)
		}
		return c.JSON(http.StatusOK, meta)
	}

	rc, meta, err := h.store.Get(c.Request().Context(), key)
	if err != nil {
		return storeError(c, err)
	}
	defer rc.Close()

	c.Response().Header().Set("Content-Disposition", `attachment; filename="`+path.Base(meta.Key)+`"`)
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

func (h *BlobHandler) handleDelete(c echo.Context) error {
	key := c.Param("*")
	if err := ValidateKey(key); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if err := h.store.Delete(c.Request().Context(), key); err != nil {
		return storeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func storeError(c echo.Context, err error) error {
	if errors.Is(err, ErrBlobNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
