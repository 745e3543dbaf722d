package web

import (
	"context"
	"net/http"
	"time"

	"github.com/JonMunkholm/quizimport/internal/core"
	"github.com/JonMunkholm/quizimport/internal/logging"
)

// FieldInfo describes one importable field.
type FieldInfo struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	Required   bool     `json:"required"`
	EnumValues []string `json:"enumValues,omitempty"`
	Columns    []string `json:"columns"` // Accepted column and property names
	Merge      string   `json:"merge"`
}

// SchemaInfo describes a registered record type.
type SchemaInfo struct {
	Type       core.RecordType `json:"type"`
	Label      string          `json:"label"`
	KeyField   string          `json:"keyField"`
	Collection string          `json:"collection,omitempty"`
	Fields     []FieldInfo     `json:"fields"`
}

func schemaInfo(schema *core.RecordSchema) SchemaInfo {
	cols := schema.Columns()
	info := SchemaInfo{
		Type:       schema.Type,
		Label:      schema.Label,
		KeyField:   schema.KeyField,
		Collection: schema.Collection,
		Fields:     make([]FieldInfo, 0, len(schema.Fields)),
	}
	for _, f := range schema.Fields {
		info.Fields = append(info.Fields, FieldInfo{
			Name:       f.Name,
			Kind:       f.Kind.String(),
			Required:   f.Required,
			EnumValues: f.EnumValues,
			Columns:    cols[f.Name],
			Merge:      schema.Merge.For(f.Name).String(),
		})
	}
	return info
}

// handleListSchemas lists the record types that can be imported.
func (s *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	schemas := s.service.Schemas()
	infos := make([]SchemaInfo, 0, len(schemas))
	for _, schema := range schemas {
		infos = append(infos, schemaInfo(schema))
	}
	writeJSON(w, r, http.StatusOK, infos)
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status   string                  `json:"status"`
	Store    string                  `json:"store"`
	Sessions int                     `json:"sessions"`
	Applies  core.ApplyLimiterStatus `json:"applies"`
}

// handleHealth reports process and store health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Store:    "ok",
		Sessions: s.service.SessionCount(),
		Applies:  s.service.Limiter().Status(),
	}
	status := http.StatusOK

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("store health check failed", "error", err)
			resp.Status = "degraded"
			resp.Store = core.MapError(err).Code
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, r, status, resp)
}
