package httpapi

import (
	"net/http"
	"strings"
	"time"
)

type createRoleRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

type updateRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type createDelegationRequest struct {
	ToUser    string    `json:"to_user"`
	RoleID    string    `json:"role_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Reason    string    `json:"reason"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, "manage", "roles") {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.svc.CreateRole(r.Context(), req.Name, req.Permissions)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		w.Header().Set("Location", "/v1/roles/"+role.ID)
		writeJSON(w, http.StatusCreated, role)
	case http.MethodGet:
		roles, err := a.svc.ListRoles(r.Context())
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleRoleScoped(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, "manage", "roles") {
		return
	}
	roleID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if roleID == "" || strings.Contains(roleID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		role, err := a.svc.GetRole(r.Context(), roleID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodPut:
		var req updateRolePermissionsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.svc.UpdateRolePermissions(r.Context(), roleID, req.Permissions)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		if err := a.svc.DeleteRole(r.Context(), roleID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleDelegations(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, "manage", "delegations") {
		return
	}
	switch r.Method {
	case http.MethodPost:
		principal, _ := authPrincipal(r)
		var req createDelegationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		delegation, err := a.svc.CreateDelegation(r.Context(), principal.UserID, req.ToUser, req.RoleID, req.StartDate, req.EndDate, req.Reason)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		w.Header().Set("Location", "/v1/delegations/"+delegation.ID)
		writeJSON(w, http.StatusCreated, delegation)
	case http.MethodGet:
		toUser := strings.TrimSpace(r.URL.Query().Get("to_user"))
		activeOnly := r.URL.Query().Get("active") == "true"
		delegations, err := a.svc.ListDelegations(r.Context(), toUser, activeOnly)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"delegations": delegations})
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleDelegationScoped(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, "manage", "delegations") {
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/delegations/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "revoke" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.svc.RevokeDelegation(r.Context(), parts[0]); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}
