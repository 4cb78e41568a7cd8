// Package api exposes the enhancement workflow over HTTP for the studio
// frontend, plus an MCP tool surface.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/voloshyn/retouch/internal/controller"
	"github.com/voloshyn/retouch/internal/media"
	"github.com/voloshyn/retouch/internal/prefs"
	"github.com/voloshyn/retouch/internal/provider"
	"github.com/voloshyn/retouch/internal/studio"
)

// Base64-encoded uploads inflate by ~4/3; 30MB of body covers ~20MB images.
const maxUploadBodySize = 30 << 20

const thumbnailSize = 256

// Deps holds dependencies for the HTTP surface.
type Deps struct {
	Controller *controller.Controller
	Prefs      *prefs.Manager
	Token      string // optional; when set, /api routes require bearer auth
}

// NewHandler returns the studio's HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/api", func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Get("/state", handleState(deps))
		r.Post("/image", handleUploadImage(deps))
		r.Delete("/image", handleClearImage(deps))
		r.Patch("/slot", handlePatchSlot(deps))
		r.Post("/enhance", handleEnhance(deps))
		r.Get("/history", handleListHistory(deps))
		r.Get("/history/{id}", handleGetHistory(deps))
		r.Get("/history/{id}/thumbnail", handleHistoryThumbnail(deps))
		r.Delete("/history/{id}", handleRemoveHistory(deps))
		r.Delete("/history", handleClearHistory(deps))
		r.Get("/key", handleKeyStatus(deps))
		r.Post("/key/select", handleSelectKey(deps))
		r.Get("/prefs", handleGetPrefs(deps))
		r.Patch("/prefs", handlePatchPrefs(deps))
	})

	return r
}

// BearerAuth requires a constant-time matching bearer token on every request.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleState(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Controller.Snapshot())
	}
}

type uploadRequest struct {
	ImageData string `json:"image_data"`
	MimeType  string `json:"mime_type"`
}

func handleUploadImage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		var req uploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ImageData == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "image_data is required")
			return
		}

		if err := deps.Controller.SetImage(req.ImageData, req.MimeType); err != nil {
			if errors.Is(err, controller.ErrBusy) {
				httpError(w, http.StatusConflict, "busy", "%v", err)
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, deps.Controller.Snapshot())
	}
}

func handleClearImage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Controller.ClearImage(); err != nil {
			httpError(w, http.StatusConflict, "busy", "%v", err)
			return
		}
		writeJSON(w, deps.Controller.Snapshot())
	}
}

type slotPatch struct {
	Prompt     *string `json:"prompt"`
	Resolution *string `json:"resolution"`
}

func handlePatchSlot(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch slotPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if patch.Resolution != nil {
			res, err := provider.ParseResolution(*patch.Resolution)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			if err := deps.Controller.SetResolution(res); err != nil {
				httpError(w, http.StatusConflict, "busy", "%v", err)
				return
			}
		}
		if patch.Prompt != nil {
			if err := deps.Controller.SetPrompt(*patch.Prompt); err != nil {
				httpError(w, http.StatusConflict, "busy", "%v", err)
				return
			}
		}
		writeJSON(w, deps.Controller.Snapshot())
	}
}

func handleEnhance(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := deps.Controller.Submit(r.Context()); err != nil {
			writeEnhanceError(w, err)
			return
		}
		writeJSON(w, deps.Controller.Snapshot())
	}
}

func handleListHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Controller.History())
	}
}

func handleGetHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		item, ok := deps.Controller.HistoryItem(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "no history item with id %q", id)
			return
		}
		writeJSON(w, item)
	}
}

func handleHistoryThumbnail(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		item, ok := deps.Controller.HistoryItem(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "no history item with id %q", id)
			return
		}

		thumb, err := media.ThumbnailPNG(item.EnhancedImage, thumbnailSize)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "rendering thumbnail: %v", err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(thumb)
	}
}

func handleRemoveHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Controller.RemoveHistory(chi.URLParam(r, "id"))
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleClearHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Controller.ClearHistory()
		w.WriteHeader(http.StatusNoContent)
	}
}

type keyStatus struct {
	Selected   bool `json:"selected"`
	Configured bool `json:"configured"`
}

func handleKeyStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Controller.RefreshKeyStatus(r.Context())
		snap := deps.Controller.Snapshot()
		writeJSON(w, keyStatus{Selected: snap.KeySelected, Configured: snap.KeyConfigured})
	}
}

func handleSelectKey(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Controller.SelectKey(r.Context()); err != nil {
			if errors.Is(err, studio.ErrUnavailable) {
				httpError(w, http.StatusServiceUnavailable, "studio_unavailable", "%v", err)
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "opening key selection: %v", err)
			return
		}
		snap := deps.Controller.Snapshot()
		writeJSON(w, keyStatus{Selected: snap.KeySelected, Configured: snap.KeyConfigured})
	}
}

func handleGetPrefs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Prefs.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading preferences: %v", err)
			return
		}
		writeJSON(w, p)
	}
}

func handlePatchPrefs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch map[string]string
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		// Validate the whole patch before applying anything, so one bad
		// key cannot leave the rest partially applied.
		for key, value := range patch {
			if err := prefs.Validate(key, value); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
		}
		for key, value := range patch {
			if err := deps.Prefs.Set(key, value); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
				return
			}
		}
		p, err := deps.Prefs.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading preferences: %v", err)
			return
		}
		writeJSON(w, p)
	}
}

// writeEnhanceError maps submit failures to HTTP. Classified provider errors
// carry their own status code and kind; everything else is a client-side
// precondition failure.
func writeEnhanceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, controller.ErrBusy):
		httpError(w, http.StatusConflict, "busy", "%v", err)
	case errors.Is(err, provider.ErrNotConfigured):
		httpError(w, http.StatusPreconditionFailed, "not-configured", "%v", err)
	default:
		if e, ok := provider.AsError(err); ok {
			writeClassified(w, e)
			return
		}
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	}
}

func writeClassified(w http.ResponseWriter, e *provider.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": e.Message,
			"type":    string(e.Kind),
			"detail":  e.Detail,
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
