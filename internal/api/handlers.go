package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"videoflix/internal/artifact"
	"videoflix/internal/auth"
	"videoflix/internal/observability/logging"
	"videoflix/internal/observability/metrics"
	"videoflix/internal/registry"
)

const (
	contentTypeManifest = "application/vnd.apple.mpegurl"
	contentTypeSegment  = "video/MP2T"
)

// Handler serves the delivery surface. It is read-only: it never mutates
// the registry and never triggers transcoding.
type Handler struct {
	registry      registry.Store
	artifacts     *artifact.Store
	authenticator auth.Authenticator
	recorder      *metrics.Recorder
	labels        map[string]struct{}
	logger        *slog.Logger
}

// Options configures a Handler.
type Options struct {
	Registry      registry.Store
	Artifacts     *artifact.Store
	Authenticator auth.Authenticator
	Recorder      *metrics.Recorder
	// Labels restricts rendition path segments to the configured ladder.
	Labels []string
	Logger *slog.Logger
}

func NewHandler(opts Options) *Handler {
	labels := make(map[string]struct{}, len(opts.Labels))
	for _, label := range opts.Labels {
		labels[label] = struct{}{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Handler{
		registry:      opts.Registry,
		artifacts:     opts.Artifacts,
		authenticator: opts.Authenticator,
		recorder:      recorder,
		labels:        labels,
		logger:        logging.WithComponent(logger, "api"),
	}
}

// Router assembles the gateway routes. The operational surface (healthz,
// metrics) stays outside the authentication boundary.
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", h.handleHealthz).Methods(http.MethodGet)
	router.Handle("/metrics", h.recorder.Handler()).Methods(http.MethodGet)

	assets := router.PathPrefix("/api/assets").Subrouter()
	assets.Use(h.requireAuth)
	assets.HandleFunc("", h.handleListAssets).Methods(http.MethodGet)
	assets.HandleFunc("/{id}/{rendition}/manifest", h.handleManifest).Methods(http.MethodGet)
	assets.HandleFunc("/{id}/{rendition}/segments/{name}", h.handleSegment).Methods(http.MethodGet)
	return router
}

func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := h.authenticator.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, errors.New("authentication required"))
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), identity)))
	})
}

type assetListItem struct {
	ID           string `json:"id"`
	CreatedAt    string `json:"createdAt"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	ThumbnailURL string `json:"thumbnailUrl"`
	Category     string `json:"category"`
}

func (h *Handler) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.registry.ListAssets(r.Context())
	if err != nil {
		h.logger.Error("list assets", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("list assets failed"))
		return
	}
	items := make([]assetListItem, 0, len(assets))
	for _, asset := range assets {
		items = append(items, assetListItem{
			ID:           asset.ID,
			CreatedAt:    asset.CreatedAt.UTC().Format(time.RFC3339Nano),
			Title:        asset.Title,
			Description:  asset.Description,
			ThumbnailURL: asset.ThumbnailURL,
			Category:     string(asset.Category),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// resolveRendition validates path parameters before any filesystem access.
func (h *Handler) resolveRendition(w http.ResponseWriter, r *http.Request) (assetID, label string, ok bool) {
	vars := mux.Vars(r)
	assetID = vars["id"]
	label = vars["rendition"]
	if !artifact.ValidName(assetID) {
		writeError(w, http.StatusBadRequest, errors.New("invalid asset id"))
		return "", "", false
	}
	if _, known := h.labels[label]; !known {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown rendition %q", label))
		return "", "", false
	}
	exists, err := h.registry.Exists(r.Context(), assetID)
	if err != nil {
		h.logger.Error("asset lookup", "asset_id", assetID, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("asset lookup failed"))
		return "", "", false
	}
	if !exists {
		writeError(w, http.StatusNotFound, errors.New("asset not found"))
		return "", "", false
	}
	return assetID, label, true
}

func (h *Handler) handleManifest(w http.ResponseWriter, r *http.Request) {
	assetID, label, ok := h.resolveRendition(w, r)
	if !ok {
		return
	}
	payload, err := h.artifacts.ManifestBytes(assetID, label)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("rendition not ready"))
			return
		}
		h.logger.Error("read manifest", "asset_id", assetID, "rendition", label, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("read manifest failed"))
		return
	}
	w.Header().Set("Content-Type", contentTypeManifest)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (h *Handler) handleSegment(w http.ResponseWriter, r *http.Request) {
	assetID, label, ok := h.resolveRendition(w, r)
	if !ok {
		return
	}
	name := mux.Vars(r)["name"]
	if !artifact.ValidName(name) || name == artifact.ManifestName {
		writeError(w, http.StatusBadRequest, errors.New("invalid segment name"))
		return
	}
	payload, err := h.artifacts.SegmentBytes(assetID, label, name)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("segment not found"))
			return
		}
		h.logger.Error("read segment", "asset_id", assetID, "rendition", label, "segment", name, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("read segment failed"))
		return
	}
	w.Header().Set("Content-Type", contentTypeSegment)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
