package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saviour-lab/console/internal/observability"
	"github.com/saviour-lab/console/internal/registry"
	"github.com/saviour-lab/console/model"
)

// fieldEditRequest is the body for a single field edit.
type fieldEditRequest struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// collapseRequest is the body for a section collapse toggle.
type collapseRequest struct {
	Path string `json:"path"`
}

// openSession ensures an edit session exists for the module, seeding it
// from the registry's latest snapshot when needed.
func openSession(deps Dependencies, moduleID string) error {
	if deps.Sessions.Has(moduleID) {
		return nil
	}
	snapshot, version, err := deps.Modules.Snapshot(moduleID)
	if err != nil {
		// Ask the controller for this one module so a retry can succeed
		// once its snapshot lands.
		if ee, ok := err.(*model.ErrorEnvelope); ok && ee.Code == model.ErrNotFound {
			_ = deps.Rig.Emit(model.EventGetModuleConfig,
				model.GetModuleConfigRequest{ModuleID: moduleID})
		}
		return err
	}
	deps.Sessions.Begin(moduleID, snapshot, version)
	if deps.Metrics != nil {
		deps.Metrics.SetSessionsActive(float64(deps.Sessions.Count()))
	}
	return nil
}

// renderForm writes the module's current form descriptor.
func renderForm(deps Dependencies, w http.ResponseWriter, moduleID string) {
	desc, err := deps.Sessions.RenderForm(moduleID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, desc)
}

func handleOpenSession(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		moduleID := chi.URLParam(r, "moduleId")
		if err := openSession(deps, moduleID); err != nil {
			WriteError(w, err)
			return
		}
		renderForm(deps, w, moduleID)
	}
}

func handleGetForm(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		moduleID := chi.URLParam(r, "moduleId")
		// Reading the form implicitly opens a session so the first view
		// and the edit flow share one working copy.
		if err := openSession(deps, moduleID); err != nil {
			WriteError(w, err)
			return
		}
		renderForm(deps, w, moduleID)
	}
}

func handleEditField(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		moduleID := chi.URLParam(r, "moduleId")

		var req fieldEditRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		_, span := observability.StartSpan(r.Context(), "console.edit_field",
			observability.AttrModuleID.String(moduleID),
			observability.AttrFieldPath.String(req.Path),
		)

		if err := deps.Sessions.ApplyEdit(moduleID, req.Path, req.Value); err != nil {
			if deps.Metrics != nil {
				deps.Metrics.RecordFieldEdit("rejected")
			}
			observability.EndSpanWithError(span, err)
			WriteError(w, err)
			return
		}
		if deps.Metrics != nil {
			deps.Metrics.RecordFieldEdit("ok")
		}
		span.End()
		renderForm(deps, w, moduleID)
	}
}

func handleToggleCollapse(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		moduleID := chi.URLParam(r, "moduleId")

		var req collapseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		if err := deps.Sessions.ToggleCollapse(moduleID, req.Path); err != nil {
			WriteError(w, err)
			return
		}
		renderForm(deps, w, moduleID)
	}
}

func handleSave(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		moduleID := chi.URLParam(r, "moduleId")
		logger := observability.RequestLogger(r.Context(), deps.Logger)

		payload, err := deps.Sessions.SavePayload(moduleID)
		if err != nil {
			WriteError(w, err)
			return
		}
		logger.Debug("save payload assembled",
			zap.String("module_id", moduleID),
			zap.Any("config", observability.RedactBody(payload, nil)))

		requestID := uuid.NewString()
		var event string
		var body any
		if moduleID == registry.ControllerID {
			event = model.EventSaveControllerConfig
			body = model.SaveControllerConfigRequest{
				RequestID: requestID,
				Config:    payload,
			}
		} else {
			event = model.EventSaveModuleConfig
			body = model.SaveModuleConfigRequest{
				ID:        moduleID,
				RequestID: requestID,
				Config:    model.ConfigEnvelope{Config: payload},
			}
		}

		ctx, span := observability.StartSpan(r.Context(), "console.save_config",
			observability.AttrModuleID.String(moduleID),
			observability.AttrRigEvent.String(event),
			observability.AttrRequestID.String(requestID),
		)

		start := time.Now()
		ack, err := deps.Rig.EmitAndAwaitAck(ctx, event, body, requestID)
		if err != nil {
			// The working copy stays intact; the operator can retry.
			recordSave(deps, saveStatus(err), time.Since(start))
			logger.Warn("config save failed",
				zap.String("module_id", moduleID),
				zap.String("request_id", requestID),
				zap.Error(err))
			observability.EndSpanWithError(span, err)
			WriteError(w, err)
			return
		}

		if !ack.Success {
			recordSave(deps, "rejected", time.Since(start))
			logger.Warn("config save rejected",
				zap.String("module_id", moduleID),
				zap.String("request_id", requestID),
				zap.String("reason", ack.Error))
			span.SetAttributes(observability.AttrSaveStatus.String("rejected"))
			observability.EndSpanWithError(span, model.NewSaveRejectedError(ack.Error))
			WriteError(w, model.NewSaveRejectedError(ack.Error))
			return
		}

		deps.Sessions.Discard(moduleID)
		recordSave(deps, "ok", time.Since(start))
		span.SetAttributes(observability.AttrSaveStatus.String("ok"))
		span.End()
		if deps.Metrics != nil {
			deps.Metrics.SetSessionsActive(float64(deps.Sessions.Count()))
		}
		logger.Info("config saved",
			zap.String("module_id", moduleID),
			zap.String("request_id", requestID))

		WriteJSON(w, http.StatusOK, model.SaveResponse{
			Success:  true,
			ModuleID: moduleID,
		})
	}
}

func handleDiscardSession(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		moduleID := chi.URLParam(r, "moduleId")
		deps.Sessions.Discard(moduleID)
		if deps.Metrics != nil {
			deps.Metrics.SetSessionsActive(float64(deps.Sessions.Count()))
		}
		WriteJSON(w, http.StatusOK, map[string]string{
			"status":    "discarded",
			"module_id": moduleID,
		})
	}
}

func recordSave(deps Dependencies, status string, d time.Duration) {
	if deps.Metrics != nil {
		deps.Metrics.RecordSave(status, d)
	}
}

func saveStatus(err error) string {
	if ee, ok := err.(*model.ErrorEnvelope); ok {
		switch ee.Code {
		case model.ErrRigTimeout:
			return "timeout"
		case model.ErrRigUnavailable:
			return "unavailable"
		}
	}
	return "error"
}
