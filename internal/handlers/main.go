package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"

	"pictor/internal/apperr"
	"pictor/internal/ingest"
	"pictor/pkg/logger"
	"pictor/pkg/utils"
)

// Handler serves the HTTP surface of the derivative pipeline.
type Handler struct {
	facade        *ingest.Facade
	secret        string
	maxUploadSize int64
	log           *logger.Logger

	// Collapses concurrent reads of the same derivative file.
	reads singleflight.Group
}

func New(facade *ingest.Facade, secret string, maxUploadSize int64, log *logger.Logger) *Handler {
	return &Handler{facade: facade, secret: secret, maxUploadSize: maxUploadSize, log: log}
}

// Routes registers every endpoint on a fresh mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /uploads", h.requireSecret(h.UploadTemp))
	mux.HandleFunc("POST /resources/{type}/{id}/images", h.requireSecret(h.ApplyImages))
	mux.HandleFunc("POST /resources/{type}/{id}/single/{slot}", h.requireSecret(h.ReplaceSingle))
	mux.HandleFunc("DELETE /resources/{type}/{id}/single/{slot}", h.requireSecret(h.ClearSingle))
	mux.HandleFunc("DELETE /resources/{type}/{id}/images/{record}", h.requireSecret(h.DeleteImage))

	mux.HandleFunc("GET /resources/{type}/{id}/images", h.ListImages)
	mux.HandleFunc("GET /resources/{type}/{id}/images/{record}/{derivative}", h.ServeDerivative)

	mux.HandleFunc("GET /stats", h.Stats)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// requireSecret guards write endpoints with the X-Secret-Key header.
// An empty server secret leaves writes open.
func (h *Handler) requireSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.secret != "" {
			clientSecret := r.Header.Get("X-Secret-Key")
			if subtle.ConstantTimeCompare([]byte(clientSecret), []byte(h.secret)) != 1 {
				utils.WriteError(w, http.StatusForbidden, utils.ErrAuthInvalid, "Invalid secret key.")
				return
			}
		}
		next(w, r)
	}
}

// writeErr maps pipeline errors to the JSON error body.
func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed: %v", err)
	}
	utils.WriteError(w, status, apperr.Code(err), err.Error())
}
