package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"strings"

	"pictor/internal/appinfo"
	"pictor/internal/ingest"
	"pictor/pkg/utils"
)

// resource resolves the {type} slug and {id} path values.
func (h *Handler) resource(w http.ResponseWriter, r *http.Request) (ingest.Resource, bool) {
	resourceType, ok := h.facade.Registry().FindBySlug(r.PathValue("type"))
	if !ok {
		utils.WriteError(w, http.StatusNotFound, utils.ErrRequestNotFound, "Unknown resource type.")
		return ingest.Resource{}, false
	}
	return ingest.Resource{Type: resourceType, ID: r.PathValue("id")}, true
}

func recordID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue("record"), 10, 64)
	if err != nil || id == 0 {
		utils.WriteError(w, http.StatusBadRequest, utils.ErrRequestInvalid, "Record id must be a positive integer.")
		return 0, false
	}
	return uint(id), true
}

// DeleteImage removes one record and every file derived for it.
// DELETE /resources/{type}/{id}/images/{record}
func (h *Handler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	res, ok := h.resource(w, r)
	if !ok {
		return
	}
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	if err := h.facade.Delete(r.Context(), res, r.URL.Query().Get("slot"), id); err != nil {
		h.writeErr(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"action": "deleted",
		"target": id,
	})
}

// ClearSingle empties a single slot.
// DELETE /resources/{type}/{id}/single/{slot}
func (h *Handler) ClearSingle(w http.ResponseWriter, r *http.Request) {
	res, ok := h.resource(w, r)
	if !ok {
		return
	}
	if err := h.facade.ClearSingle(r.Context(), res, r.PathValue("slot")); err != nil {
		h.writeErr(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "success",
		"action": "cleared",
		"target": r.PathValue("slot"),
	})
}

// ListImages returns the records of a resource, optionally one slot.
// GET /resources/{type}/{id}/images?slot=gallery&limit=50
func (h *Handler) ListImages(w http.ResponseWriter, r *http.Request) {
	res, ok := h.resource(w, r)
	if !ok {
		return
	}
	records, err := h.facade.List(r.Context(), res, r.URL.Query().Get("slot"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	total := len(records)
	if limit := utils.ParseInt(r.URL.Query().Get("limit"), 100, 1, 500); len(records) > limit {
		records = records[:limit]
	}
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items":       records,
		"total_items": total,
	})
}

// ServeDerivative streams one derivative file. Unknown derivative names
// fall back to the original.
// GET /resources/{type}/{id}/images/{record}/{derivative}?retina=1
func (h *Handler) ServeDerivative(w http.ResponseWriter, r *http.Request) {
	res, ok := h.resource(w, r)
	if !ok {
		return
	}
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	retina := false
	switch strings.ToLower(r.URL.Query().Get("retina")) {
	case "1", "true", "yes":
		retina = true
	}

	path, err := h.facade.Locate(r.Context(), res, id, r.PathValue("derivative"), retina)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	data, err, _ := h.reads.Do(path, func() (interface{}, error) {
		return os.ReadFile(path)
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			utils.WriteError(w, http.StatusNotFound, utils.ErrRequestNotFound, "Derivative file is missing.")
			return
		}
		h.log.Error("Failed to read %s: %v", path, err)
		utils.WriteError(w, http.StatusInternalServerError, utils.ErrServerInternal, "Failed to read derivative.")
		return
	}

	body := data.([]byte)
	serveWithETag(w, r, body, http.DetectContentType(body))
}

// Stats returns pipeline counters.
// GET /stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, appinfo.Snapshot())
}

// serveWithETag handles HTTP caching headers (ETag, Cache-Control).
// Returns 304 Not Modified if client's cache is valid.
func serveWithETag(w http.ResponseWriter, r *http.Request, data []byte, mimeType string) {
	hash := sha256.Sum256(data)
	etag := hex.EncodeToString(hash[:])

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("ETag", `"`+etag+`"`)

	if match := r.Header.Get("If-None-Match"); match != "" && strings.Contains(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Write(data)
}
