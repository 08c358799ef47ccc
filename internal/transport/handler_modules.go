package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/saviour-lab/console/model"
)

// moduleListResponse is the /ui/modules payload.
type moduleListResponse struct {
	Modules []model.ModuleDescriptor `json:"modules"`
}

func handleListModules(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		mods := deps.Modules.Modules()
		if deps.Metrics != nil {
			deps.Metrics.SetModulesKnown(float64(len(mods)))
		}
		WriteJSON(w, http.StatusOK, moduleListResponse{Modules: mods})
	}
}

func handleModuleHealth(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		// Serve the cached view and kick off a refresh; the next poll picks
		// up the fresh numbers.
		if err := deps.Rig.Emit(model.EventGetModuleHealth, struct{}{}); err != nil {
			deps.Logger.Debug("module health refresh skipped", zap.Error(err))
		}
		health := deps.Modules.Health()
		if health == nil {
			health = map[string]any{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{"module_health": health})
	}
}

func handleRemoveModule(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		moduleID := chi.URLParam(r, "moduleId")

		if err := deps.Rig.Emit(model.EventRemoveModule, model.RemoveModuleRequest{ID: moduleID}); err != nil {
			WriteError(w, err)
			return
		}

		deps.Sessions.Discard(moduleID)
		deps.Modules.Drop(moduleID)
		if deps.Metrics != nil {
			deps.Metrics.SetSessionsActive(float64(deps.Sessions.Count()))
		}

		WriteJSON(w, http.StatusOK, map[string]string{
			"status":    "removed",
			"module_id": moduleID,
		})
	}
}
