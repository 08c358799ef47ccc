package transport

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/saviour-lab/console/model"
)

func handleGetExperiment(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := deps.Rig.Emit(model.EventGetExperimentMetadata, struct{}{}); err != nil {
			deps.Logger.Debug("experiment metadata refresh skipped", zap.Error(err))
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"metadata": deps.Modules.Metadata(),
		})
	}
}

func handleUpdateExperiment(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var meta model.ExperimentMetadata
		if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		if err := deps.Rig.Emit(model.EventUpdateExperimentMetadata, meta); err != nil {
			WriteError(w, err)
			return
		}

		// The controller echoes the stored block back on the channel; the
		// registry cache picks it up from there.
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "submitted"})
	}
}
