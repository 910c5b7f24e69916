// Maps domain errors to API errors.

package server

import (
	"errors"

	"github.com/maruel/gridb/internal/grid"
	"github.com/maruel/gridb/internal/mutation"
	"github.com/maruel/gridb/internal/pending"
	"github.com/maruel/gridb/internal/server/dto"
	"github.com/maruel/gridb/internal/store"
)

// toAPIError classifies err. Mutation failures carry their kind and attempt
// count in the details.
func toAPIError(err error) *dto.APIError {
	var apiErr *dto.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	out := classifyError(err)
	var merr *mutation.Error
	if errors.As(err, &merr) {
		out.WithDetail("kind", string(merr.Kind)).WithDetail("op", string(merr.Op))
		if merr.Attempts > 0 {
			out.WithDetail("attempts", merr.Attempts)
		}
	}
	return out.Wrap(err)
}

func classifyError(err error) *dto.APIError {
	var merr *mutation.Error
	if errors.As(err, &merr) {
		switch merr.Kind {
		case mutation.TransientStoreError:
			return dto.StoreUnavailable()
		case mutation.DependencyTimeout:
			return dto.DependencyTimeout()
		}
	}
	switch {
	case errors.Is(err, grid.ErrPrimaryColumn):
		return dto.PrimaryColumn()
	case errors.Is(err, grid.ErrLastTable), errors.Is(err, grid.ErrLastView):
		return dto.Conflict("conflict")
	case errors.Is(err, pending.ErrTimeout), errors.Is(err, pending.ErrDiscarded):
		return dto.DependencyTimeout()
	case errors.Is(err, mutation.ErrUnknownPlaceholder):
		return dto.NotFound("placeholder")
	}
	var serr *store.Error
	if !errors.As(err, &serr) {
		if merr != nil {
			// Validation failures raised before any patch.
			return dto.BadRequest("invalid mutation")
		}
		return dto.Internal("internal error")
	}
	switch serr.Kind {
	case store.NotFound:
		return dto.NotFound("entity")
	case store.Invalid:
		return dto.BadRequest("invalid request")
	case store.Conflict:
		return dto.Conflict("conflict")
	case store.Unauthorized:
		return dto.Forbidden()
	case store.Transient, store.NotVisible:
		return dto.StoreUnavailable()
	default:
		return dto.Internal("store error")
	}
}
