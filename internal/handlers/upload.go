package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"pictor/internal/ingest"
	"pictor/pkg/utils"
)

// multipartOverhead is the slack allowed above the upload limit for form
// boundaries and headers.
const multipartOverhead = 1 << 20

// UploadTemp stores a multipart "file" as a temp upload and returns its id.
// POST /uploads
func (h *Handler) UploadTemp(w http.ResponseWriter, r *http.Request) {
	upload, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	tmp, err := h.facade.StoreTemp(r.Context(), upload)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       tmp.ID,
		"filename": tmp.Filename,
		"size":     tmp.Size,
	})
}

// ApplyImages runs a keyed ingestion request against one resource.
// POST /resources/{type}/{id}/images
func (h *Handler) ApplyImages(w http.ResponseWriter, r *http.Request) {
	res, ok := h.resource(w, r)
	if !ok {
		return
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, multipartOverhead)).Decode(&raw); err != nil {
		utils.WriteError(w, http.StatusBadRequest, utils.ErrRequestInvalid, "Body must be a JSON object of image keys.")
		return
	}

	targets, err := ingest.ParseRequest(raw)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	outcomes, err := h.facade.Apply(r.Context(), res, targets)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"resource_type": res.Type,
		"resource_id":   res.ID,
		"outcomes":      outcomes,
	})
}

// ReplaceSingle derives a multipart "file" into a single slot, replacing
// its current image.
// POST /resources/{type}/{id}/single/{slot}
func (h *Handler) ReplaceSingle(w http.ResponseWriter, r *http.Request) {
	res, ok := h.resource(w, r)
	if !ok {
		return
	}
	upload, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	var entry ingest.Entry
	if meta := r.FormValue("meta"); meta != "" {
		if err := json.Unmarshal([]byte(meta), &entry.Meta); err != nil {
			utils.WriteError(w, http.StatusBadRequest, utils.ErrRequestInvalid, "Field 'meta' must be a JSON object.")
			return
		}
	}

	rec, err := h.facade.ReplaceSingle(r.Context(), res, r.PathValue("slot"), upload, entry)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, rec)
}

// readUpload reads the multipart "file" field within the size limit.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (ingest.Upload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.WriteError(w, http.StatusRequestEntityTooLarge, utils.ErrRequestBodyTooLarge, "File exceeds size limit.")
			return ingest.Upload{}, false
		}
		utils.WriteError(w, http.StatusBadRequest, utils.ErrRequestInvalid, "Body must be multipart/form-data.")
		return ingest.Upload{}, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, utils.ErrRequestInvalid, "Missing 'file' field.")
		return ingest.Upload{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, utils.ErrRequestInvalid, "Failed to read file.")
		return ingest.Upload{}, false
	}
	return ingest.Upload{Filename: header.Filename, Data: data}, true
}
