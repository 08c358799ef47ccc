package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/saviour-lab/console/model"
)

// handleSendCommand forwards an operator command (start_recording,
// stop_recording, clear_recordings, ...) to a module over the rig channel.
// The console does not interpret the command; the controller formats and
// routes it. Results come back as ordinary pushes.
func handleSendCommand(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		moduleID := chi.URLParam(r, "moduleId")

		var body struct {
			Type   string         `json:"type"`
			Params map[string]any `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.Type == "" {
			WriteValidationError(w, []model.FieldError{{
				Field:   "type",
				Code:    model.ErrValidationError,
				Message: "command type is required",
			}})
			return
		}

		req := model.SendCommandRequest{
			Type:     body.Type,
			ModuleID: moduleID,
			Params:   body.Params,
		}
		if err := deps.Rig.Emit(model.EventSendCommand, req); err != nil {
			WriteError(w, err)
			return
		}
		deps.Logger.Info("command forwarded to rig",
			zap.String("module_id", moduleID),
			zap.String("command", body.Type),
		)

		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "submitted"})
	}
}

// handleListRecordings serves the cached recordings listing and asks the
// controller for a fresh aggregation. The refresh lands on the channel as a
// recordings_list push; a follow-up request sees it.
func handleListRecordings(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		refresh := model.SendCommandRequest{Type: "list_recordings", ModuleID: "all"}
		if err := deps.Rig.Emit(model.EventSendCommand, refresh); err != nil {
			deps.Logger.Debug("recordings refresh skipped", zap.Error(err))
		}

		recs := deps.Modules.Recordings()
		WriteJSON(w, http.StatusOK, map[string]any{
			"module_recordings":   recs.ModuleRecordings,
			"exported_recordings": recs.ExportedRecordings,
		})
	}
}
