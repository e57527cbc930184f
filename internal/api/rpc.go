// Package api exposes the reservation core over HTTP: a single RPC
// endpoint mirroring the manager's method table, plus metrics and
// health probes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/reservd/reservd/internal/log"
	"github.com/reservd/reservd/internal/manager"
	"github.com/reservd/reservd/internal/store"
)

// rpcRequest is the wire form of one call: a method name and loosely
// typed arguments. Names containing a colon address a resource plugin
// directly as "<resource_type>:<method>".
type rpcRequest struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result interface{} `json:"result,omitempty"`
	Error  *rpcError   `json:"error,omitempty"`
}

// Handler dispatches RPC calls onto the manager and its plugins.
type Handler struct {
	manager *manager.Manager
	logger  zerolog.Logger
}

func NewHandler(m *manager.Manager) *Handler {
	return &Handler{
		manager: m,
		logger:  log.WithComponent("api"),
	}
}

func (h *Handler) ServeRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing method name")
		return
	}
	if req.Args == nil {
		req.Args = map[string]interface{}{}
	}

	h.logger.Debug().Str("method", req.Name).Msg("dispatching rpc call")

	var (
		result interface{}
		err    error
	)
	if strings.Contains(req.Name, ":") {
		result, err = h.callPlugin(r.Context(), req.Name, req.Args)
	} else {
		result, err = h.callManager(r.Context(), req.Name, req.Args)
	}
	if err != nil {
		h.logger.Warn().Err(err).Str("method", req.Name).Msg("rpc call failed")
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, rpcResponse{Result: result})
}

func (h *Handler) callManager(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	switch name {
	case "get_lease":
		id, err := stringArg(args, "lease_id")
		if err != nil {
			return nil, err
		}
		return h.manager.GetLease(ctx, id)
	case "list_leases":
		projectID, _ := args["project_id"].(string)
		query, _ := args["query"].(string)
		return h.manager.ListLeases(ctx, projectID, query)
	case "create_lease":
		values, err := mapArg(args, "values")
		if err != nil {
			return nil, err
		}
		return h.manager.CreateLease(ctx, values)
	case "update_lease":
		id, err := stringArg(args, "lease_id")
		if err != nil {
			return nil, err
		}
		values, err := mapArg(args, "values")
		if err != nil {
			return nil, err
		}
		return h.manager.UpdateLease(ctx, id, values)
	case "delete_lease":
		id, err := stringArg(args, "lease_id")
		if err != nil {
			return nil, err
		}
		return nil, h.manager.DeleteLease(ctx, id)
	case "start_lease", "end_lease", "before_end_lease":
		leaseID, err := stringArg(args, "lease_id")
		if err != nil {
			return nil, err
		}
		eventID, err := stringArg(args, "event_id")
		if err != nil {
			return nil, err
		}
		switch name {
		case "start_lease":
			return nil, h.manager.StartLease(ctx, leaseID, eventID)
		case "end_lease":
			return nil, h.manager.EndLease(ctx, leaseID, eventID)
		default:
			return nil, h.manager.BeforeEndLease(ctx, leaseID, eventID)
		}
	default:
		return nil, fmt.Errorf("unknown method %q", name)
	}
}

// callPlugin routes "<resource_type>:<method>" onto the named plugin,
// so resource-specific operations need no per-type endpoint.
func (h *Handler) callPlugin(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	resourceType, method, _ := strings.Cut(name, ":")
	p, ok := h.manager.Registry.Get(resourceType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", manager.ErrUnsupportedResource, resourceType)
	}

	switch method {
	case "reserve_resource":
		id, err := stringArg(args, "reservation_id")
		if err != nil {
			return nil, err
		}
		values, err := mapArg(args, "values")
		if err != nil {
			return nil, err
		}
		return p.ReserveResource(ctx, id, values)
	case "update_reservation":
		id, err := stringArg(args, "reservation_id")
		if err != nil {
			return nil, err
		}
		values, err := mapArg(args, "values")
		if err != nil {
			return nil, err
		}
		return nil, p.UpdateReservation(ctx, id, values)
	case "on_start":
		id, err := stringArg(args, "resource_id")
		if err != nil {
			return nil, err
		}
		return nil, p.OnStart(ctx, id)
	case "on_end":
		id, err := stringArg(args, "resource_id")
		if err != nil {
			return nil, err
		}
		return nil, p.OnEnd(ctx, id)
	case "before_end":
		id, err := stringArg(args, "resource_id")
		if err != nil {
			return nil, err
		}
		return nil, p.BeforeEnd(ctx, id)
	default:
		return nil, fmt.Errorf("unknown plugin method %q for resource type %q", method, resourceType)
	}
}

func stringArg(args map[string]interface{}, key string) (string, error) {
	s, ok := args[key].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("missing argument %q", key)
	}
	return s, nil
}

func mapArg(args map[string]interface{}, key string) (map[string]interface{}, error) {
	m, ok := args[key].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing argument %q", key)
	}
	return m, nil
}

// statusFor maps manager error kinds onto HTTP statuses. Unknown-method
// errors fall through to 400 via the explicit wrapping at the call site.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, manager.ErrInvalidStatus),
		errors.Is(err, manager.ErrLeaseNameExists):
		return http.StatusConflict
	case errors.Is(err, manager.ErrMissingParameter),
		errors.Is(err, manager.ErrMissingTrustID),
		errors.Is(err, manager.ErrInvalidDate),
		errors.Is(err, manager.ErrInvalidInput),
		errors.Is(err, manager.ErrUnsupportedResource),
		errors.Is(err, manager.ErrCantUpdateParameter),
		errors.Is(err, manager.ErrEventType):
		return http.StatusBadRequest
	default:
		if strings.HasPrefix(err.Error(), "unknown method") ||
			strings.HasPrefix(err.Error(), "unknown plugin method") ||
			strings.HasPrefix(err.Error(), "missing argument") {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, rpcResponse{Error: &rpcError{Code: status, Message: msg}})
}
