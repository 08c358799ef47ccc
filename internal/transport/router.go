package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/saviour-lab/console/internal/config"
	"github.com/saviour-lab/console/internal/configtree"
	"github.com/saviour-lab/console/internal/observability"
	"github.com/saviour-lab/console/internal/session"
	"github.com/saviour-lab/console/model"
)

// ModuleSource is the registry view the handlers read from.
type ModuleSource interface {
	Modules() []model.ModuleDescriptor
	Snapshot(moduleID string) (configtree.Value, int64, error)
	Health() map[string]any
	Metadata() model.ExperimentMetadata
	Recordings() model.RecordingsListPush
	Drop(moduleID string)
}

// RigChannel is the outbound side of the rig event channel.
type RigChannel interface {
	Connected() bool
	Emit(event string, data any) error
	EmitAndAwaitAck(ctx context.Context, event string, data any, requestID string) (model.SaveConfigAck, error)
}

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Sessions     *session.Manager
	Modules      ModuleSource
	Rig          RigChannel
	Authenticate func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	r.Use(Recovery)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes.
	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(observability.ReadinessChecks{
		RigConnected: deps.Rig.Connected,
		ModulesKnown: func() int { return len(deps.Modules.Modules()) },
	}))
	if deps.Config.Observability.Metrics.Enabled {
		r.Get(deps.Config.Observability.Metrics.Path, observability.Handler().ServeHTTP)
	}

	// Authenticated routes.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				ctx := observability.WithLogger(req.Context(), deps.Logger)
				next.ServeHTTP(w, req.WithContext(ctx))
			})
		})
		r.Use(BuildRequestContext)
		r.Use(observability.TracingMiddleware)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging)
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Get("/ui/modules", handleListModules(deps))
		r.Get("/ui/modules/health", handleModuleHealth(deps))

		r.Route("/ui/modules/{moduleId}", func(r chi.Router) {
			r.Delete("/", handleRemoveModule(deps))
			r.Post("/session", handleOpenSession(deps))
			r.Delete("/session", handleDiscardSession(deps))
			r.Get("/form", handleGetForm(deps))
			r.Post("/form/field", handleEditField(deps))
			r.Post("/form/collapse", handleToggleCollapse(deps))
			r.Post("/save", handleSave(deps))

			r.Post("/command", handleSendCommand(deps))

			r.Post("/pins", handleAddPin(deps))
			r.Delete("/pins/{pinId}", handleRemovePin(deps))
			r.Post("/pins/{pinId}/mode", handleSetPinMode(deps))
			r.Post("/pins/{pinId}/field", handleSetPinField(deps))
		})

		r.Get("/ui/recordings", handleListRecordings(deps))

		r.Get("/ui/experiment", handleGetExperiment(deps))
		r.Put("/ui/experiment", handleUpdateExperiment(deps))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, "no route for "+r.URL.Path)
	})

	return r
}
