package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/joshp123/flairbridge/internal/accessory"
	"github.com/joshp123/flairbridge/internal/core"
	"github.com/joshp123/flairbridge/internal/host"
)

// HealthReport is the JSON body of /health.
type HealthReport struct {
	Status   string               `json:"status"`
	Services []core.ServiceStatus `json:"services"`
}

// HealthHandler reports every known service. Any NOT_SERVING entry makes the
// overall status degraded; the response is still 200 so liveness probes pass.
func HealthHandler(registry *core.HealthRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		registry.SyncPlugins()
		report := HealthReport{Status: "ok", Services: registry.Snapshot()}
		for _, s := range report.Services {
			if s.Status != "SERVING" {
				report.Status = "degraded"
				break
			}
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// Accessories is the runtime the accessory API reads and commands.
type Accessories interface {
	Accessories() []accessory.Snapshot
	Accessory(uuid string) (*accessory.Accessory, bool)
	Set(ctx context.Context, uuid string, service accessory.ServiceType, char accessory.Characteristic, value any) error
}

// SetRequest is the body of POST /accessories/{uuid}/set.
type SetRequest struct {
	Service        accessory.ServiceType    `json:"service"`
	Characteristic accessory.Characteristic `json:"characteristic"`
	Value          any                      `json:"value"`
}

// RegisterAccessories mounts the accessory list, detail and command routes.
func RegisterAccessories(mux *http.ServeMux, accessories Accessories) {
	mux.HandleFunc("GET /accessories", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, accessories.Accessories())
	})
	mux.HandleFunc("GET /accessories/{uuid}", func(w http.ResponseWriter, r *http.Request) {
		acc, ok := accessories.Accessory(r.PathValue("uuid"))
		if !ok {
			writeError(w, http.StatusNotFound, host.ErrUnknownAccessory)
			return
		}
		writeJSON(w, http.StatusOK, acc.Snapshot())
	})
	mux.HandleFunc("POST /accessories/{uuid}/set", func(w http.ResponseWriter, r *http.Request) {
		var req SetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.Service == "" || req.Characteristic == "" {
			writeError(w, http.StatusBadRequest, errors.New("service and characteristic are required"))
			return
		}
		uuid := r.PathValue("uuid")
		if err := accessories.Set(r.Context(), uuid, req.Service, req.Characteristic, req.Value); err != nil {
			writeError(w, setStatus(err), err)
			return
		}
		acc, ok := accessories.Accessory(uuid)
		if !ok {
			writeError(w, http.StatusNotFound, host.ErrUnknownAccessory)
			return
		}
		writeJSON(w, http.StatusOK, acc.Snapshot())
	})
}

func setStatus(err error) int {
	switch {
	case errors.Is(err, host.ErrUnknownAccessory):
		return http.StatusNotFound
	case errors.Is(err, accessory.ErrServiceNotFound), errors.Is(err, accessory.ErrReadOnly):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
