package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"prism-tasks/domain"
	"prism-tasks/shortcuts"
	"prism-tasks/transfer"
)

func (s *Server) healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (s *Server) getTasks(c echo.Context) error {
	board := s.views.Board()
	metricsFrom(c).Set("tasks_returned", len(board.Tasks))
	return c.JSON(http.StatusOK, board)
}

func (s *Server) getStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.views.Stats())
}

func (s *Server) getCategories(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{"categories": s.views.Categories()})
}

type historyResponse struct {
	CanUndo bool `json:"canUndo"`
	CanRedo bool `json:"canRedo"`
	Past    int  `json:"past"`
	Future  int  `json:"future"`
}

func (s *Server) getHistory(c echo.Context) error {
	past, future := s.store.HistoryDepth()
	return c.JSON(http.StatusOK, historyResponse{
		CanUndo: past > 0,
		CanRedo: future > 0,
		Past:    past,
		Future:  future,
	})
}

func (s *Server) getFilters(c echo.Context) error {
	return c.JSON(http.StatusOK, s.filters.Get())
}

type filtersRequest struct {
	Status           *domain.StatusFilter `json:"status"`
	SearchQuery      *string              `json:"searchQuery"`
	SelectedCategory *string              `json:"selectedCategory"`
}

func (s *Server) putFilters(c echo.Context) error {
	var req filtersRequest
	if err := c.Bind(&req); err != nil {
		metricsFrom(c).SetErrorStage("decode")
		return err
	}
	next := s.filters.Get()
	if req.Status != nil {
		if !req.Status.Valid() {
			return s.validationFailed(c, domain.Invalid(-1, "status", fmt.Sprintf("unknown status %q", *req.Status)))
		}
		next.Status = *req.Status
	}
	if req.SearchQuery != nil {
		next.SearchQuery = *req.SearchQuery
	}
	if req.SelectedCategory != nil {
		if *req.SelectedCategory == "" {
			next.SelectedCategory = domain.AllCategories
		} else {
			next.SelectedCategory = *req.SelectedCategory
		}
	}
	s.filters.Replace(next)
	return c.JSON(http.StatusOK, s.filters.Get())
}

func (s *Server) clearFilters(c echo.Context) error {
	if s.search != nil {
		s.search.Stop()
	}
	s.filters.ClearFilters()
	return c.JSON(http.StatusOK, s.filters.Get())
}

type searchRequest struct {
	Query string `json:"query"`
}

// searchResponse reports the query still waiting for the debounce window;
// Pending is empty once it has been applied to the filters.
type searchResponse struct {
	Pending string         `json:"pending"`
	Filters domain.Filters `json:"filters"`
}

func (s *Server) postSearch(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if s.search == nil {
		s.filters.SetSearchQuery(req.Query)
		return c.JSON(http.StatusOK, searchResponse{Filters: s.filters.Get()})
	}
	s.search.Submit(req.Query)
	pending, waiting := s.search.Pending()
	status := http.StatusAccepted
	if !waiting {
		status = http.StatusOK
	}
	return c.JSON(status, searchResponse{Pending: pending, Filters: s.filters.Get()})
}

type importResponse struct {
	Imported int    `json:"imported"`
	Revision uint64 `json:"revision"`
}

func (s *Server) postImport(c echo.Context) error {
	m := metricsFrom(c)
	blob, err := io.ReadAll(io.LimitReader(c.Request().Body, transfer.MaxImportSize+1))
	if err != nil {
		m.SetErrorStage("read")
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	if len(blob) > transfer.MaxImportSize {
		m.SetErrorStage("too_large")
		return c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "import too large"})
	}
	tasks, err := transfer.Import(blob)
	if err != nil {
		m.SetErrorStage("validate")
		s.log.WithError(err).Warn("import rejected")
		return s.validationFailed(c, err)
	}
	s.store.ImportTasks(tasks)
	m.Set("imported", len(tasks))
	return c.JSON(http.StatusOK, importResponse{Imported: len(tasks), Revision: s.store.Revision()})
}

func (s *Server) getExport(c echo.Context) error {
	data, err := transfer.Export(s.store.Tasks())
	if err != nil {
		metricsFrom(c).SetErrorStage("encode")
		return err
	}
	name := transfer.ExportFileName(s.clock.Now())
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
}

type shortcutResponse struct {
	shortcuts.Result
	Applied  bool   `json:"applied"`
	Revision uint64 `json:"revision"`
}

// postShortcut runs undo and redo on the board; the remaining intents are
// echoed back for the client to act on.
func (s *Server) postShortcut(c echo.Context) error {
	var ev shortcuts.KeyEvent
	if err := c.Bind(&ev); err != nil {
		return err
	}
	var applied bool
	res := shortcuts.Dispatch(ev, shortcuts.Handlers{
		OnUndo: func() { applied = s.store.Undo() },
		OnRedo: func() { applied = s.store.Redo() },
	})
	metricsFrom(c).Set("shortcut", string(res.Action))
	return c.JSON(http.StatusOK, shortcutResponse{Result: res, Applied: applied, Revision: s.store.Revision()})
}
