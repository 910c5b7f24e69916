// Publishes the JSON schema of the API request types.

package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/maruel/gridb/internal/server/dto"
)

// SchemaRequest is a request for the API schema.
type SchemaRequest struct{}

// Validate is a no-op for SchemaRequest.
func (r *SchemaRequest) Validate() error {
	return nil
}

// SchemaResponse maps request type names to their JSON schema.
type SchemaResponse map[string]json.RawMessage

var schemaTypes = map[string]any{
	"AddRowRequest":       &dto.AddRowRequest{},
	"UpdateCellRequest":   &dto.UpdateCellRequest{},
	"AddColumnRequest":    &dto.AddColumnRequest{},
	"RenameColumnRequest": &dto.RenameColumnRequest{},
	"CreateBaseRequest":   &dto.CreateBaseRequest{},
	"CreateTableRequest":  &dto.CreateTableRequest{},
	"UpdateTableRequest":  &dto.UpdateTableRequest{},
	"CreateViewRequest":   &dto.CreateViewRequest{},
	"UpdateViewRequest":   &dto.UpdateViewRequest{},
	"SnapshotResponse":    &dto.SnapshotResponse{},
	"MutationResponse":    &dto.MutationResponse{},
}

var schemas = sync.OnceValues(func() (SchemaResponse, error) {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	out := make(SchemaResponse, len(schemaTypes))
	for name, v := range schemaTypes {
		b, err := json.Marshal(r.Reflect(v))
		if err != nil {
			return nil, err
		}
		out[name] = b
	}
	return out, nil
})

// Schema returns the JSON schema of the request and response bodies.
func (s *Server) Schema(context.Context, *SchemaRequest) (*SchemaResponse, error) {
	out, err := schemas()
	if err != nil {
		return nil, err
	}
	return &out, nil
}
