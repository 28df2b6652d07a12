package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/rs/zerolog/log"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
	"github.com/sisques-labs/project-starter-sub009/internal/cqrs"
	"github.com/sisques-labs/project-starter-sub009/internal/criteria"
	"github.com/sisques-labs/project-starter-sub009/internal/eventstore"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
	"github.com/sisques-labs/project-starter-sub009/internal/replay"
	"github.com/sisques-labs/project-starter-sub009/internal/saga"
	"github.com/sisques-labs/project-starter-sub009/internal/search"
)

// Replayer re-publishes stored events
type Replayer interface {
	Execute(ctx context.Context, f replay.Filter) (int, error)
}

// EventFinder pages through the event store
type EventFinder interface {
	FindByCriteria(ctx context.Context, f eventstore.Filter, dir criteria.Direction, p criteria.Pagination) (criteria.Page[models.EventRecord], error)
}

// Searcher runs full-text queries on the search read model
type Searcher interface {
	Search(ctx context.Context, index, query string, from, size int) (search.SearchResult, error)
}

// CommandResponse acknowledges an executed command
type CommandResponse struct {
	CommandType string `json:"commandType"`
	Status      string `json:"status"`
}

// ReplayResponse reports how many events a replay re-published. Error is set
// when the run stopped early.
type ReplayResponse struct {
	Replayed      int            `json:"replayed"`
	FailedEventID string         `json:"failed_event_id,omitempty"`
	Error         *ErrorResponse `json:"error,omitempty"`
}

type eventsQuery struct {
	AggregateID   string     `form:"aggregate_id"`
	AggregateType string     `form:"aggregate_type"`
	EventType     string     `form:"event_type"`
	From          *time.Time `form:"from"`
	To            *time.Time `form:"to"`
	Direction     string     `form:"direction"`
	Page          int        `form:"page"`
	PerPage       int        `form:"per_page"`
}

type sagasQuery struct {
	Name      string `form:"name"`
	Status    string `form:"status"`
	Sort      string `form:"sort"`
	Direction string `form:"direction"`
	Page      int    `form:"page"`
	PerPage   int    `form:"per_page"`
}

type searchQuery struct {
	Query string `form:"q"`
	From  int    `form:"from"`
	Size  int    `form:"size"`
}

// executeCommand runs a {"commandType", "data"} envelope
func (s *Server) executeCommand(c *gin.Context) {
	var env cqrs.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		s.writeError(c, bindError(err))
		return
	}

	if err := s.deps.Commands.ExecuteEnvelope(c.Request.Context(), env); err != nil {
		log.Warn().Err(err).Str("commandType", env.CommandType).Msg("Command rejected")
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, CommandResponse{CommandType: env.CommandType, Status: "executed"})
}

// replayEvents re-publishes a filtered range of stored events
func (s *Server) replayEvents(c *gin.Context) {
	var filter replay.Filter
	if err := c.ShouldBindJSON(&filter); err != nil {
		s.writeError(c, bindError(err))
		return
	}

	replayed, err := s.deps.Replayer.Execute(c.Request.Context(), filter)
	if err != nil {
		var rerr *replay.Error
		if !errors.As(err, &rerr) {
			s.writeError(c, err)
			return
		}
		status, resp := newErrorResponse(err)
		s.deps.Tracer.RecordError(nrgin.Transaction(c), err)
		c.AbortWithStatusJSON(status, ReplayResponse{
			Replayed:      rerr.Replayed,
			FailedEventID: rerr.EventID,
			Error:         &resp,
		})
		return
	}

	c.JSON(http.StatusOK, ReplayResponse{Replayed: replayed})
}

// listEvents pages through stored events
func (s *Server) listEvents(c *gin.Context) {
	var q eventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.writeError(c, apperror.NewValidation("query", err.Error()))
		return
	}

	filter := eventstore.Filter{
		AggregateID:   q.AggregateID,
		AggregateType: q.AggregateType,
		EventType:     q.EventType,
		From:          q.From,
		To:            q.To,
	}
	page, err := s.deps.Events.FindByCriteria(c.Request.Context(), filter,
		criteria.Direction(q.Direction),
		criteria.Pagination{Page: q.Page, PerPage: q.PerPage})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

// listSagas pages through saga instances
func (s *Server) listSagas(c *gin.Context) {
	var q sagasQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.writeError(c, apperror.NewValidation("query", err.Error()))
		return
	}

	crit, err := q.toCriteria()
	if err != nil {
		s.writeError(c, err)
		return
	}

	page, err := cqrs.AskAs[criteria.Page[models.SagaInstanceView]](c.Request.Context(), s.deps.Queries,
		saga.FindInstancesQuery{Criteria: crit})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func (q sagasQuery) toCriteria() (criteria.Criteria, error) {
	var c criteria.Criteria
	if q.Name != "" {
		c.Filters = append(c.Filters, criteria.Filter{Field: "name", Operator: criteria.Eq, Value: q.Name})
	}
	if q.Status != "" {
		c.Filters = append(c.Filters, criteria.Filter{Field: "status", Operator: criteria.Eq, Value: q.Status})
	}
	if q.Sort != "" {
		dir, err := criteria.ParseDirection(q.Direction)
		if err != nil {
			return c, err
		}
		c.Sorts = []criteria.Sort{{Field: q.Sort, Direction: dir}}
	}
	c.Pagination = criteria.Pagination{Page: q.Page, PerPage: q.PerPage}
	return c, nil
}

// getSaga returns one saga instance
func (s *Server) getSaga(c *gin.Context) {
	instance, err := cqrs.AskAs[*models.SagaInstanceView](c.Request.Context(), s.deps.Queries,
		saga.FindInstanceQuery{ID: c.Param("id")})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, instance)
}

// getSagaSteps returns the steps of an instance in execution order
func (s *Server) getSagaSteps(c *gin.Context) {
	steps, err := cqrs.AskAs[[]models.SagaStepView](c.Request.Context(), s.deps.Queries,
		saga.StepsByInstanceQuery{InstanceID: c.Param("id")})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, steps)
}

// getSagaLogs returns the log of an instance
func (s *Server) getSagaLogs(c *gin.Context) {
	logs, err := cqrs.AskAs[[]models.SagaLog](c.Request.Context(), s.deps.Queries,
		saga.LogsByInstanceQuery{InstanceID: c.Param("id")})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, logs)
}

// getStepLogs returns the log of a single step
func (s *Server) getStepLogs(c *gin.Context) {
	logs, err := cqrs.AskAs[[]models.SagaLog](c.Request.Context(), s.deps.Queries,
		saga.LogsByStepQuery{StepID: c.Param("id")})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, logs)
}

// cancelSaga cancels a saga instance
func (s *Server) cancelSaga(c *gin.Context) {
	if err := s.deps.Commands.Execute(c.Request.Context(), saga.CancelCommand{ID: c.Param("id")}); err != nil {
		s.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// deleteSaga soft-deletes a saga instance
func (s *Server) deleteSaga(c *gin.Context) {
	if err := s.deps.Commands.Execute(c.Request.Context(), saga.DeleteCommand{ID: c.Param("id")}); err != nil {
		s.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// search runs a query string search on one of the managed indices
func (s *Server) search(c *gin.Context) {
	index := c.Param("index")
	if !slices.Contains(search.Indices, index) {
		s.writeError(c, apperror.NewNotFound("index", index))
		return
	}

	var q searchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.writeError(c, apperror.NewValidation("query", err.Error()))
		return
	}
	pagination := criteria.Pagination{PerPage: q.Size}.Normalize()

	result, err := s.deps.Search.Search(c.Request.Context(), index, q.Query, max(q.From, 0), pagination.PerPage)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
