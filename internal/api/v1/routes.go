// Package v1 provides the table REST endpoints and the probe endpoints.
package v1

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/sheetsync-server/internal/api/common"
	"github.com/stacklok/sheetsync-server/internal/auth"
	"github.com/stacklok/sheetsync-server/internal/service"
	"github.com/stacklok/sheetsync-server/internal/table"
	"github.com/stacklok/sheetsync-server/internal/validators"
)

const maxBodyBytes = 1 << 20

// ColumnsResponse is returned after a column was added
type ColumnsResponse struct {
	Columns []table.Column `json:"columns"`
}

// TableListResponse is the body of the list endpoint
type TableListResponse struct {
	Tables []*table.Table `json:"tables"`
	Count  int            `json:"count"`
}

// Routes handles HTTP requests for the table endpoints.
type Routes struct {
	service   service.TableService
	validator *validators.Validator
}

// NewRoutes creates a new Routes instance with the given service.
func NewRoutes(svc service.TableService, validator *validators.Validator) *Routes {
	return &Routes{
		service:   svc,
		validator: validator,
	}
}

// Router creates and configures the HTTP router for the table endpoints.
func Router(svc service.TableService, validator *validators.Validator) http.Handler {
	routes := NewRoutes(svc, validator)

	r := chi.NewRouter()

	r.Get("/", routes.listTables)
	r.Post("/", routes.createTable)
	r.Route("/{"+common.TableIDParam+"}", func(r chi.Router) {
		r.Get("/", routes.getTable)
		r.Delete("/", routes.deleteTable)
		r.Get("/data", routes.tableData)
		r.Post("/columns", routes.addColumn)
	})

	return r
}

// listTables handles GET /api/tables
func (routes *Routes) listTables(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	tables, err := routes.service.ListTables(r.Context(), principal)
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}

	common.WriteJSONResponse(w, TableListResponse{Tables: tables, Count: len(tables)}, http.StatusOK)
}

// createTable handles POST /api/tables
func (routes *Routes) createTable(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req service.CreateTableRequest
	if !decodeBody(w, r, routes.validator.CreateTable, &req) {
		return
	}

	t, err := routes.service.CreateTable(r.Context(), principal, req)
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}

	common.WriteJSONResponse(w, t, http.StatusCreated)
}

// getTable handles GET /api/tables/{id}
func (routes *Routes) getTable(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := tableRequest(w, r)
	if !ok {
		return
	}

	t, err := routes.service.GetTable(r.Context(), principal, id)
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}

	common.WriteJSONResponse(w, t, http.StatusOK)
}

// tableData handles GET /api/tables/{id}/data
func (routes *Routes) tableData(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := tableRequest(w, r)
	if !ok {
		return
	}

	data, err := routes.service.TableData(r.Context(), principal, id)
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}

	common.WriteJSONResponse(w, data, http.StatusOK)
}

// addColumn handles POST /api/tables/{id}/columns
func (routes *Routes) addColumn(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := tableRequest(w, r)
	if !ok {
		return
	}

	var req service.AddColumnRequest
	if !decodeBody(w, r, routes.validator.AddColumn, &req) {
		return
	}

	cols, err := routes.service.AddColumn(r.Context(), principal, id, req)
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}

	common.WriteJSONResponse(w, ColumnsResponse{Columns: cols}, http.StatusOK)
}

// deleteTable handles DELETE /api/tables/{id}
func (routes *Routes) deleteTable(w http.ResponseWriter, r *http.Request) {
	principal, id, ok := tableRequest(w, r)
	if !ok {
		return
	}

	if err := routes.service.DeleteTable(r.Context(), principal, id); err != nil {
		common.WriteServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (string, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok || principal == "" {
		common.WriteErrorResponse(w, "authentication required", http.StatusUnauthorized)
		return "", false
	}
	return principal, true
}

func tableRequest(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return "", "", false
	}
	id, err := common.PathParam(r, common.TableIDParam)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return "", "", false
	}
	return principal, id, true
}

// decodeBody validates the request body against a schema and decodes it into dst
func decodeBody(w http.ResponseWriter, r *http.Request, validate func([]byte) error, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			common.WriteErrorResponse(w, "request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		common.WriteErrorResponse(w, "failed to read request body", http.StatusBadRequest)
		return false
	}
	if err := validate(body); err != nil {
		common.WriteServiceError(w, r, err)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		common.WriteErrorResponse(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}
