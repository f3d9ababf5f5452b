// Package api exposes the task board over HTTP.
package api

import (
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-tasks/domain"
	"prism-tasks/store"
	"prism-tasks/view"
)

// Options wires the server to the board it serves. Search and Deduper are
// optional.
type Options struct {
	Store   *store.Store
	Filters *store.FilterState
	Views   *view.Engine
	Search  *store.Debouncer
	Deduper Deduper
	BoardID string
	Clock   domain.Clock
	Logger  *log.Logger
}

type Server struct {
	store   *store.Store
	filters *store.FilterState
	views   *view.Engine
	search  *store.Debouncer
	deduper Deduper
	boardID string
	clock   domain.Clock
	log     *log.Logger
	broker  *updateBroker
}

// New creates the server and subscribes the change stream to the store and
// the filter state.
func New(opts Options) *Server {
	if opts.Store == nil || opts.Filters == nil || opts.Views == nil {
		panic("api.New: store, filters and views are required")
	}
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	s := &Server{
		store:   opts.Store,
		filters: opts.Filters,
		views:   opts.Views,
		search:  opts.Search,
		deduper: opts.Deduper,
		boardID: opts.BoardID,
		clock:   opts.Clock,
		log:     opts.Logger,
		broker:  newUpdateBroker(),
	}
	s.store.OnChange(func(store.Change) { s.broker.notify() })
	s.filters.OnChange(func(domain.Filters) { s.broker.notify() })
	return s
}

// Register wires up all API routes on the provided Echo instance.
func (s *Server) Register(e *echo.Echo) {
	e.JSONSerializer = JSONSerializer{}

	g := e.Group("/api", ObserveMiddleware(s.log), GzipRequestMiddleware())
	g.GET("/tasks", s.getTasks)
	g.GET("/stats", s.getStats)
	g.GET("/categories", s.getCategories)
	g.GET("/history", s.getHistory)
	g.POST("/commands", s.postCommands)
	g.GET("/filters", s.getFilters)
	g.PUT("/filters", s.putFilters)
	g.POST("/filters/clear", s.clearFilters)
	g.POST("/filters/search", s.postSearch)
	g.POST("/import", s.postImport)
	g.GET("/export", s.getExport)
	g.POST("/shortcuts", s.postShortcut)
	g.GET("/stream", s.streamBoard)

	e.GET("/healthz", s.healthz)
}
