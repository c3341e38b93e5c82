package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/playperu/geounlock/internal/handler/health"
	"github.com/playperu/geounlock/internal/secretquiz"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

type userPath struct {
	UserID string `path:"userID"`
}

type quizPath struct {
	Name string `path:"name"`
}

type wsQuery struct {
	User string `query:"user" required:"true"`
}

type locationInput struct {
	userPath
	LocationRequest
}

type quizUpdateInput struct {
	quizPath
	secretquiz.Quiz
}

type premiumInput struct {
	userPath
	PremiumRequest
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "GeoUnlock API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Location-gated secret quiz unlocking.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Returns the status of sqlite, redis and, when configured, amqp.")
	getHealthz.AddRespStructure(health.Response{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(health.Response{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	// GET /ws/location
	getWS, _ := r.NewOperationContext(http.MethodGet, "/ws/location")
	getWS.SetSummary("Location stream")
	getWS.SetDescription("Upgrades to a WebSocket. Each text frame is one {lat,lng} sample. Closing the socket stops monitoring.")
	getWS.AddReqStructure(wsQuery{})
	getWS.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusSwitchingProtocols))
	getWS.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	_ = r.AddOperation(getWS)

	// POST /api/users/{userID}/location
	postLocation, _ := r.NewOperationContext(http.MethodPost, "/api/users/{userID}/location")
	postLocation.SetSummary("Submit location sample")
	postLocation.SetDescription("Queues a sample for the user's reconciliation loop. Starts monitoring if needed.")
	postLocation.AddReqStructure(locationInput{})
	postLocation.AddRespStructure(LocationResponse{}, openapi.WithHTTPStatus(http.StatusAccepted))
	postLocation.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	_ = r.AddOperation(postLocation)

	// DELETE /api/users/{userID}/monitor
	deleteMonitor, _ := r.NewOperationContext(http.MethodDelete, "/api/users/{userID}/monitor")
	deleteMonitor.SetSummary("Stop monitoring")
	deleteMonitor.SetDescription("Stops the user's reconciliation loop. An in-flight pass completes.")
	deleteMonitor.AddReqStructure(userPath{})
	deleteMonitor.AddRespStructure(StopMonitorResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(deleteMonitor)

	// GET /api/users/{userID}/events
	getEvents, _ := r.NewOperationContext(http.MethodGet, "/api/users/{userID}/events")
	getEvents.SetSummary("Unlock event stream")
	getEvents.SetDescription("Server-Sent Events stream of quiz_unlocked events for the user.")
	getEvents.AddReqStructure(userPath{})
	getEvents.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("text/event-stream"))
	_ = r.AddOperation(getEvents)

	// GET /api/users/{userID}/unlocks
	getUnlocks, _ := r.NewOperationContext(http.MethodGet, "/api/users/{userID}/unlocks")
	getUnlocks.SetSummary("Cached unlocks")
	getUnlocks.SetDescription("Returns the user's records from the local unlock cache.")
	getUnlocks.AddReqStructure(userPath{})
	getUnlocks.AddRespStructure(UnlocksResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(getUnlocks)

	// GET /api/users/{userID}/secret-quizzes
	getUserQuizzes, _ := r.NewOperationContext(http.MethodGet, "/api/users/{userID}/secret-quizzes")
	getUserQuizzes.SetSummary("Secret quizzes for user")
	getUserQuizzes.SetDescription("Returns the catalog with the user's unlock flags and, while monitoring, the distance from the last sample.")
	getUserQuizzes.AddReqStructure(userPath{})
	getUserQuizzes.AddRespStructure(UserSecretQuizzesResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getUserQuizzes.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getUserQuizzes)

	// GET /api/admin/secret-quizzes
	listQuizzes, _ := r.NewOperationContext(http.MethodGet, "/api/admin/secret-quizzes")
	listQuizzes.SetSummary("List secret quizzes")
	listQuizzes.SetDescription("Returns the full catalog. Requires admin basic auth.")
	listQuizzes.AddRespStructure([]secretquiz.Quiz{}, openapi.WithHTTPStatus(http.StatusOK))
	listQuizzes.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(listQuizzes)

	// POST /api/admin/secret-quizzes
	createQuiz, _ := r.NewOperationContext(http.MethodPost, "/api/admin/secret-quizzes")
	createQuiz.SetSummary("Create secret quiz")
	createQuiz.SetDescription("Adds a catalog entry. Requires admin basic auth.")
	createQuiz.AddReqStructure(secretquiz.Quiz{})
	createQuiz.AddRespStructure(secretquiz.Quiz{}, openapi.WithHTTPStatus(http.StatusCreated))
	createQuiz.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	createQuiz.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	createQuiz.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(createQuiz)

	// GET /api/admin/secret-quizzes/{name}
	getQuiz, _ := r.NewOperationContext(http.MethodGet, "/api/admin/secret-quizzes/{name}")
	getQuiz.SetSummary("Get secret quiz")
	getQuiz.AddReqStructure(quizPath{})
	getQuiz.AddRespStructure(secretquiz.Quiz{}, openapi.WithHTTPStatus(http.StatusOK))
	getQuiz.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	getQuiz.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(getQuiz)

	// PUT /api/admin/secret-quizzes/{name}
	updateQuiz, _ := r.NewOperationContext(http.MethodPut, "/api/admin/secret-quizzes/{name}")
	updateQuiz.SetSummary("Update secret quiz")
	updateQuiz.SetDescription("Replaces a catalog entry. Running monitors see the change on their next pass.")
	updateQuiz.AddReqStructure(quizUpdateInput{})
	updateQuiz.AddRespStructure(secretquiz.Quiz{}, openapi.WithHTTPStatus(http.StatusOK))
	updateQuiz.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	updateQuiz.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	updateQuiz.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(updateQuiz)

	// DELETE /api/admin/secret-quizzes/{name}
	deleteQuiz, _ := r.NewOperationContext(http.MethodDelete, "/api/admin/secret-quizzes/{name}")
	deleteQuiz.SetSummary("Delete secret quiz")
	deleteQuiz.SetDescription("Removes a catalog entry. Existing unlocks are kept.")
	deleteQuiz.AddReqStructure(quizPath{})
	deleteQuiz.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusNoContent))
	deleteQuiz.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	deleteQuiz.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(deleteQuiz)

	// PUT /api/admin/users/{userID}/premium
	putPremium, _ := r.NewOperationContext(http.MethodPut, "/api/admin/users/{userID}/premium")
	putPremium.SetSummary("Set premium flag")
	putPremium.SetDescription("Marks a user as premium, which unlocks every secret quiz on the next pass.")
	putPremium.AddReqStructure(premiumInput{})
	putPremium.AddRespStructure(PremiumResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	putPremium.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	putPremium.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(putPremium)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
