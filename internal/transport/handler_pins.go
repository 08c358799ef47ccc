package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/saviour-lab/console/internal/observability"
	"github.com/saviour-lab/console/model"
)

// addPinRequest is the body for registering a new pin.
type addPinRequest struct {
	ID string `json:"id"`
}

// pinModeRequest is the body for switching a pin's mode.
type pinModeRequest struct {
	Mode string `json:"mode"`
}

// pinFieldRequest is the body for editing one mode-specific pin field.
type pinFieldRequest struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

func handleAddPin(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		moduleID := chi.URLParam(r, "moduleId")

		var req addPinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		if err := deps.Sessions.AddPin(moduleID, req.ID); err != nil {
			WriteError(w, err)
			return
		}
		renderForm(deps, w, moduleID)
	}
}

func handleRemovePin(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		moduleID := chi.URLParam(r, "moduleId")
		pinID := chi.URLParam(r, "pinId")

		if err := deps.Sessions.RemovePin(moduleID, pinID); err != nil {
			WriteError(w, err)
			return
		}
		renderForm(deps, w, moduleID)
	}
}

func handleSetPinMode(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		moduleID := chi.URLParam(r, "moduleId")
		pinID := chi.URLParam(r, "pinId")

		var req pinModeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		_, span := observability.StartSpan(r.Context(), "console.set_pin_mode",
			observability.AttrModuleID.String(moduleID),
			observability.AttrPinID.String(pinID),
		)

		if err := deps.Sessions.SetPinMode(moduleID, pinID, req.Mode); err != nil {
			observability.EndSpanWithError(span, err)
			WriteError(w, err)
			return
		}
		span.End()
		renderForm(deps, w, moduleID)
	}
}

func handleSetPinField(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		moduleID := chi.URLParam(r, "moduleId")
		pinID := chi.URLParam(r, "pinId")

		var req pinFieldRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		_, span := observability.StartSpan(r.Context(), "console.set_pin_field",
			observability.AttrModuleID.String(moduleID),
			observability.AttrPinID.String(pinID),
		)

		if err := deps.Sessions.SetPinField(moduleID, pinID, req.Name, req.Value); err != nil {
			observability.EndSpanWithError(span, err)
			WriteError(w, err)
			return
		}
		span.End()
		renderForm(deps, w, moduleID)
	}
}
