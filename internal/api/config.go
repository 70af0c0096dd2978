package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bdobrica/ruriko-events/internal/store"
)

type gatewayConfigResponse struct {
	Provider string         `json:"provider"`
	Instance string         `json:"instance"`
	Config   map[string]any `json:"config"`
}

func toGatewayConfigResponse(c store.GatewayProviderConfig) gatewayConfigResponse {
	return gatewayConfigResponse{Provider: c.Provider, Instance: c.Instance, Config: c.Config}
}

// handleGatewayConfigs serves the /v1/config/gateways and
// /v1/config/gateways/{provider} routes.
func (s *Server) handleGatewayConfigs(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/config/gateways")
	rest = strings.Trim(rest, "/")

	if rest == "" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.listGatewayConfigs(w, r)
		return
	}

	provider := rest
	instance := r.URL.Query().Get("instance")

	switch r.Method {
	case http.MethodGet:
		s.getGatewayConfig(w, r, provider, instance)
	case http.MethodPut:
		s.putGatewayConfig(w, r, provider, instance)
	case http.MethodDelete:
		s.deleteGatewayConfig(w, r, provider, instance)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) listGatewayConfigs(w http.ResponseWriter, r *http.Request) {
	list, err := s.gw.ListConfigs(r.Context(), r.URL.Query().Get("provider"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]gatewayConfigResponse, 0, len(list))
	for _, c := range list {
		out = append(out, toGatewayConfigResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"configs": out})
}

func (s *Server) getGatewayConfig(w http.ResponseWriter, r *http.Request, provider, instance string) {
	cfg, err := s.gw.GetConfig(r.Context(), provider, instance)
	if err != nil {
		// The store layer doesn't distinguish "no such row" from other
		// failures here (it returns a plain error, not errs.ErrNotFound);
		// any error from GetConfig means the caller's lookup found nothing.
		var body errorBody
		body.Error.Code = "not_found"
		body.Error.Message = err.Error()
		writeJSON(w, http.StatusNotFound, body)
		return
	}
	writeJSON(w, http.StatusOK, toGatewayConfigResponse(*cfg))
}

func (s *Server) putGatewayConfig(w http.ResponseWriter, r *http.Request, provider, instance string) {
	var config map[string]any
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}
	if err := s.gw.SetConfig(r.Context(), provider, instance, config); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider": provider, "config": config})
}

func (s *Server) deleteGatewayConfig(w http.ResponseWriter, r *http.Request, provider, instance string) {
	if err := s.gw.DeleteConfig(r.Context(), provider, instance); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
