package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/g-sync/gsync/internal/bluesky"
	"github.com/g-sync/gsync/internal/records"
	"github.com/g-sync/gsync/internal/review"
)

const (
	reviewRoutePath            = "/"
	stateRoutePath             = "/api/state"
	recordsRoutePath           = "/api/records"
	loginRoutePath             = "/api/login"
	searchRoutePath            = "/api/search"
	selectRoutePath            = "/api/select"
	closeSearchRoutePath       = "/api/close-search"
	followRoutePath            = "/api/follow"
	followAllRoutePath         = "/api/follow-all"
	saveRoutePath              = "/api/save"
	healthRoutePath            = "/healthz"
	htmlContentType            = "text/html; charset=utf-8"
	responseBodyOK             = "OK"
	responseBodyInvalidFile    = "Invalid file"
	responseBodyInvalidPayload = "Invalid payload"
	responseBodySaveError      = "Error saving file"
	warningMissingTargetLink   = "Missing Bluesky account"
	confirmationRequiredError  = "confirmation required"
	errorResponseKey           = "error"
	healthStatusKey            = "status"
	healthStatusOK             = "ok"
	logMessageRenderFailure    = "review page rendering failed"
	logMessageSaveFailure      = "dataset save failed"
	errorMessageRenderFailure  = "review page rendering failed"
	ginModeRelease             = "release"
)

// DatasetStore is the read/replace boundary between the router and the
// persisted dataset.
type DatasetStore interface {
	Snapshot() records.Dataset
	Replace(payload records.Dataset) error
}

// ReviewService drives the interactive review workflow.
type ReviewService interface {
	StateSnapshot() review.State
	RecordsSnapshot() []records.AccountRecord
	AttemptLogin(ctx context.Context, identifier string, secret string) review.State
	RequestSearch(ctx context.Context, login string) (review.State, error)
	SelectCandidate(login string, candidateDID string) (review.State, error)
	CloseSearch() review.State
	RequestFollow(ctx context.Context, login string) (review.State, error)
	FollowAll(ctx context.Context) (review.State, error)
	Save(ctx context.Context) (review.State, error)
}

// PageRenderer produces the review page HTML for a dataset.
type PageRenderer func(dataset records.Dataset) (string, error)

// RouterConfig configures the HTTP routing for the review tool.
type RouterConfig struct {
	Store    DatasetStore
	Session  ReviewService
	Renderer PageRenderer
	Logger   *zap.Logger
}

// NewRouter constructs a Gin engine with the sync endpoint, the review API,
// and the health handler.
func NewRouter(configuration RouterConfig) (*gin.Engine, error) {
	renderer := configuration.Renderer
	if renderer == nil {
		renderer = RenderReviewPage
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(ginModeRelease)
	engine := gin.New()
	engine.Use(gin.Recovery())

	handler := reviewHandler{
		store:    configuration.Store,
		session:  configuration.Session,
		renderer: renderer,
		logger:   logger,
	}

	engine.GET(reviewRoutePath, handler.servePage)
	engine.POST(reviewRoutePath, handler.replaceDataset)
	engine.GET(stateRoutePath, handler.sessionState)
	engine.GET(recordsRoutePath, handler.sessionRecords)
	engine.POST(loginRoutePath, handler.attemptLogin)
	engine.POST(searchRoutePath, handler.requestSearch)
	engine.POST(selectRoutePath, handler.selectCandidate)
	engine.POST(closeSearchRoutePath, handler.closeSearch)
	engine.POST(followRoutePath, handler.requestFollow)
	engine.POST(followAllRoutePath, handler.followAll)
	engine.POST(saveRoutePath, handler.save)
	engine.GET(healthRoutePath, handler.healthStatus)

	return engine, nil
}

type reviewHandler struct {
	store    DatasetStore
	session  ReviewService
	renderer PageRenderer
	logger   *zap.Logger
}

type stateResponse struct {
	State   review.State            `json:"state"`
	Records []records.AccountRecord `json:"records,omitempty"`
	Warning string                  `json:"warning,omitempty"`
}

func (handler reviewHandler) servePage(ginContext *gin.Context) {
	pageHTML, renderErr := handler.renderer(handler.store.Snapshot())
	if renderErr != nil {
		handler.logger.Error(logMessageRenderFailure, zap.Error(renderErr))
		ginContext.String(http.StatusInternalServerError, errorMessageRenderFailure)
		return
	}
	ginContext.Data(http.StatusOK, htmlContentType, []byte(pageHTML))
}

// replaceDataset is the write side of the sync exchange: the payload must
// target the bound dataset file, and the in-memory copy is swapped only
// after the file write landed.
func (handler reviewHandler) replaceDataset(ginContext *gin.Context) {
	var payload records.Dataset
	if bindErr := ginContext.ShouldBindJSON(&payload); bindErr != nil {
		ginContext.String(http.StatusBadRequest, responseBodyInvalidPayload)
		return
	}
	if replaceErr := handler.store.Replace(payload); replaceErr != nil {
		if errors.Is(replaceErr, records.ErrMismatchedFile) {
			ginContext.String(http.StatusBadRequest, responseBodyInvalidFile)
			return
		}
		handler.logger.Error(logMessageSaveFailure, zap.Error(replaceErr))
		ginContext.String(http.StatusInternalServerError, responseBodySaveError)
		return
	}
	ginContext.String(http.StatusOK, responseBodyOK)
}

func (handler reviewHandler) sessionState(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, stateResponse{State: handler.session.StateSnapshot()})
}

func (handler reviewHandler) sessionRecords(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, stateResponse{
		State:   handler.session.StateSnapshot(),
		Records: handler.session.RecordsSnapshot(),
	})
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (handler reviewHandler) attemptLogin(ginContext *gin.Context) {
	var payload loginRequest
	if bindErr := ginContext.ShouldBindJSON(&payload); bindErr != nil {
		ginContext.String(http.StatusBadRequest, responseBodyInvalidPayload)
		return
	}
	state := handler.session.AttemptLogin(ginContext.Request.Context(), payload.Identifier, payload.Password)
	ginContext.JSON(http.StatusOK, stateResponse{State: state})
}

type recordRequest struct {
	Login string `json:"login"`
}

func (handler reviewHandler) requestSearch(ginContext *gin.Context) {
	var payload recordRequest
	if bindErr := ginContext.ShouldBindJSON(&payload); bindErr != nil {
		ginContext.String(http.StatusBadRequest, responseBodyInvalidPayload)
		return
	}
	state, searchErr := handler.session.RequestSearch(ginContext.Request.Context(), payload.Login)
	handler.respondWithState(ginContext, state, searchErr)
}

type selectRequest struct {
	Login string `json:"login"`
	DID   string `json:"did"`
}

func (handler reviewHandler) selectCandidate(ginContext *gin.Context) {
	var payload selectRequest
	if bindErr := ginContext.ShouldBindJSON(&payload); bindErr != nil {
		ginContext.String(http.StatusBadRequest, responseBodyInvalidPayload)
		return
	}
	state, selectErr := handler.session.SelectCandidate(payload.Login, payload.DID)
	handler.respondWithState(ginContext, state, selectErr)
}

func (handler reviewHandler) closeSearch(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, stateResponse{State: handler.session.CloseSearch()})
}

func (handler reviewHandler) requestFollow(ginContext *gin.Context) {
	var payload recordRequest
	if bindErr := ginContext.ShouldBindJSON(&payload); bindErr != nil {
		ginContext.String(http.StatusBadRequest, responseBodyInvalidPayload)
		return
	}
	state, followErr := handler.session.RequestFollow(ginContext.Request.Context(), payload.Login)
	if errors.Is(followErr, bluesky.ErrMissingLink) {
		ginContext.JSON(http.StatusOK, stateResponse{State: state, Warning: warningMissingTargetLink})
		return
	}
	handler.respondWithState(ginContext, state, followErr)
}

type followAllRequest struct {
	Confirm bool `json:"confirm"`
}

// followAll requires an explicit confirmation flag from the page; the batch
// itself is best-effort and reports only the final state.
func (handler reviewHandler) followAll(ginContext *gin.Context) {
	var payload followAllRequest
	if bindErr := ginContext.ShouldBindJSON(&payload); bindErr != nil {
		ginContext.String(http.StatusBadRequest, responseBodyInvalidPayload)
		return
	}
	if !payload.Confirm {
		ginContext.JSON(http.StatusBadRequest, gin.H{errorResponseKey: confirmationRequiredError})
		return
	}
	state, followErr := handler.session.FollowAll(ginContext.Request.Context())
	handler.respondWithState(ginContext, state, followErr)
}

func (handler reviewHandler) save(ginContext *gin.Context) {
	state, saveErr := handler.session.Save(ginContext.Request.Context())
	handler.respondWithState(ginContext, state, saveErr)
}

// respondWithState maps session errors onto HTTP statuses. Per-action
// network failures stay non-fatal: the returned state already reflects the
// absence of the expected change, so they answer 200.
func (handler reviewHandler) respondWithState(ginContext *gin.Context, state review.State, actionErr error) {
	switch {
	case errors.Is(actionErr, review.ErrUnknownRecord):
		ginContext.JSON(http.StatusNotFound, gin.H{errorResponseKey: actionErr.Error()})
	case errors.Is(actionErr, review.ErrActionInFlight):
		ginContext.JSON(http.StatusConflict, stateResponse{State: state})
	default:
		ginContext.JSON(http.StatusOK, stateResponse{State: state})
	}
}

func (handler reviewHandler) healthStatus(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, map[string]string{healthStatusKey: healthStatusOK})
}
