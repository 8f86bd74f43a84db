package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/limiquantix/servicecluster/internal/domain"
	"github.com/limiquantix/servicecluster/internal/services/host"
	"github.com/limiquantix/servicecluster/internal/services/placement"
)

const (
	basePath = "/api/service-clusters"

	// maxBodyBytes bounds request bodies.
	maxBodyBytes = 1 << 20

	msgHostNotFound   = "service cluster not found"
	msgNoSuitableHost = "no host with enough available resources was found"
	msgInvalidBody    = "invalid request body"
	msgInternalError  = "internal server error"
)

// HostHandler serves the service-cluster REST API.
type HostHandler struct {
	hosts     *host.Service
	placement *placement.Service
	logger    *zap.Logger
}

// NewHostHandler creates a new host handler.
func NewHostHandler(hosts *host.Service, placement *placement.Service, logger *zap.Logger) *HostHandler {
	return &HostHandler{
		hosts:     hosts,
		placement: placement,
		logger:    logger.Named("host-handler"),
	}
}

// RegisterRoutes registers the service-cluster API routes.
func (h *HostHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+basePath, h.listHosts)
	mux.HandleFunc("GET "+basePath+"/{$}", h.listHosts)
	mux.HandleFunc("POST "+basePath, h.registerHost)
	mux.HandleFunc("POST "+basePath+"/{$}", h.registerHost)
	mux.HandleFunc("GET "+basePath+"/available", h.listAvailable)
	mux.HandleFunc("GET "+basePath+"/search/{name}", h.searchHosts)
	mux.HandleFunc("POST "+basePath+"/find-suitable-host", h.findSuitableHost)
	mux.HandleFunc("GET "+basePath+"/{id}", h.getHost)
	mux.HandleFunc("PUT "+basePath+"/{id}", h.updateHost)
	mux.HandleFunc("DELETE "+basePath+"/{id}", h.deleteHost)
}

// listHosts handles GET /api/service-clusters/
func (h *HostHandler) listHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := h.hosts.List(r.Context())
	h.writeHosts(w, hosts, err)
}

// listAvailable handles GET /api/service-clusters/available
func (h *HostHandler) listAvailable(w http.ResponseWriter, r *http.Request) {
	hosts, err := h.hosts.ListAvailable(r.Context())
	h.writeHosts(w, hosts, err)
}

// searchHosts handles GET /api/service-clusters/search/{name}
func (h *HostHandler) searchHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := h.hosts.Search(r.Context(), r.PathValue("name"))
	h.writeHosts(w, hosts, err)
}

// registerHost handles POST /api/service-clusters/
func (h *HostHandler) registerHost(w http.ResponseWriter, r *http.Request) {
	var req domain.Host
	if !h.decode(w, r, &req) {
		return
	}

	stored, created, err := h.hosts.Register(r.Context(), &req)
	if err != nil {
		h.writeWriteError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, stored)
}

// getHost handles GET /api/service-clusters/{id}
func (h *HostHandler) getHost(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	found, err := h.hosts.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, msgHostNotFound)
			return
		}
		h.logger.Error("Failed to get host", zap.Int64("host_id", id), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, msgInternalError)
		return
	}

	h.writeJSON(w, http.StatusOK, found)
}

// updateHost handles PUT /api/service-clusters/{id}
func (h *HostHandler) updateHost(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req domain.Host
	if !h.decode(w, r, &req) {
		return
	}

	updated, err := h.hosts.Update(r.Context(), id, &req)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, msgHostNotFound)
			return
		}
		h.writeWriteError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, updated)
}

// deleteHost handles DELETE /api/service-clusters/{id}
func (h *HostHandler) deleteHost(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.hosts.Delete(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, msgHostNotFound)
			return
		}
		h.writeWriteError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("service cluster %d deleted", id),
	})
}

// findSuitableHost handles POST /api/service-clusters/find-suitable-host
func (h *HostHandler) findSuitableHost(w http.ResponseWriter, r *http.Request) {
	var req domain.PlacementRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.placement.Place(r.Context(), &req)
	if err != nil {
		var verr *domain.ValidationError
		switch {
		case errors.As(err, &verr):
			h.writeValidationError(w, verr)
		case errors.Is(err, domain.ErrNotFound):
			h.writeError(w, http.StatusNotFound, msgNoSuitableHost)
		default:
			h.logger.Error("Host selection failed", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, msgInternalError)
		}
		return
	}

	outcome := result.Provisioning
	switch {
	case outcome == nil:
		h.writeJSON(w, http.StatusOK, result.Host)
	case outcome.OK():
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"host":        result.Host,
			"vm_creation": outcome.Response,
		})
	default:
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"host":  result.Host,
			"error": outcome.Err.Error(),
		})
	}
}

// ============================================================================
// Helper Functions
// ============================================================================

// pathID parses the {id} path value. Non-integer ids are reported as not found.
func (h *HostHandler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusNotFound, msgHostNotFound)
		return 0, false
	}
	return id, true
}

func (h *HostHandler) decode(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dest); err != nil {
		h.writeError(w, http.StatusBadRequest, msgInvalidBody)
		return false
	}
	return true
}

func (h *HostHandler) writeHosts(w http.ResponseWriter, hosts []*domain.Host, err error) {
	if err != nil {
		h.logger.Error("Failed to list hosts", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, msgInternalError)
		return
	}
	if hosts == nil {
		hosts = []*domain.Host{}
	}
	h.writeJSON(w, http.StatusOK, hosts)
}

// writeWriteError reports a failed registry write. Storage failures, including
// uniqueness conflicts, are client errors on this API.
func (h *HostHandler) writeWriteError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		h.writeValidationError(w, verr)
		return
	}
	if errors.Is(err, domain.ErrConflict) {
		h.writeError(w, http.StatusBadRequest, "mac_address or ip_address already registered to another host")
		return
	}
	h.logger.Warn("Registry write failed", zap.Error(err))
	h.writeError(w, http.StatusBadRequest, err.Error())
}

func (h *HostHandler) writeValidationError(w http.ResponseWriter, verr *domain.ValidationError) {
	h.writeJSON(w, http.StatusBadRequest, map[string]string{
		"message": verr.Error(),
		"field":   verr.Field,
	})
}

func (h *HostHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, data, h.logger)
}

func (h *HostHandler) writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message}, h.logger)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}
