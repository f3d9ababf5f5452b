package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"prism-tasks/domain"
	"prism-tasks/transfer"
)

const postCommandMaxSize = 1 << 20

type commandsResponse struct {
	Applied  int           `json:"applied"`
	Skipped  int           `json:"skipped"`
	Revision uint64        `json:"revision"`
	Tasks    []domain.Task `json:"tasks,omitempty"`
}

// plannedCommand is a validated command with its decoded payload.
type plannedCommand struct {
	cmd     domain.Command
	add     domain.NewTask
	id      string
	patch   domain.TaskPatch
	reorder domain.ReorderData
	tasks   []domain.Task
}

// lengthTracker follows the collection size through a batch so reorder
// indices can be checked before anything is applied. Undo and redo make the
// size unknown; later reorders are then bounded by the store itself.
type lengthTracker struct {
	ids   []string
	known bool
}

func (l *lengthTracker) remove(id string) {
	for i, v := range l.ids {
		if v == id {
			l.ids = append(l.ids[:i], l.ids[i+1:]...)
			return
		}
	}
}

func decodeData(i int, cmd domain.Command, v any) error {
	if len(cmd.Data) == 0 {
		return domain.Invalid(i, "data", "required")
	}
	if err := sonic.Unmarshal(cmd.Data, v); err != nil {
		return &domain.ValidationError{Index: i, Field: "data", Reason: "invalid payload", Err: err}
	}
	return nil
}

func validatePriority(i int, field string, p domain.Priority) error {
	if p != "" && !p.Valid() {
		return domain.Invalid(i, field, fmt.Sprintf("unknown priority %q", p))
	}
	return nil
}

// planCommands validates the whole batch against the current task ids.
// Commands marked in skip are still validated but do not move the tracked
// length, since they will not be applied.
func planCommands(cmds []domain.Command, current []domain.Task, skip []bool) ([]plannedCommand, error) {
	base := lengthTracker{ids: make([]string, 0, len(current)), known: true}
	for _, t := range current {
		base.ids = append(base.ids, t.ID)
	}

	plan := make([]plannedCommand, 0, len(cmds))
	for i, cmd := range cmds {
		p := plannedCommand{cmd: cmd}
		track := &base
		if skip != nil && skip[i] {
			track = &lengthTracker{ids: slices.Clone(base.ids), known: base.known}
		}
		switch cmd.Type {
		case domain.AddTask:
			if err := decodeData(i, cmd, &p.add); err != nil {
				return nil, err
			}
			if strings.TrimSpace(p.add.Title) == "" {
				return nil, domain.Invalid(i, "title", "required")
			}
			if err := validatePriority(i, "priority", p.add.Priority); err != nil {
				return nil, err
			}
			track.ids = append(track.ids, "")

		case domain.UpdateTask:
			var data domain.UpdateTaskData
			if err := decodeData(i, cmd, &data); err != nil {
				return nil, err
			}
			if data.ID == "" {
				return nil, domain.Invalid(i, "id", "required")
			}
			if data.Updates.Empty() {
				return nil, domain.Invalid(i, "updates", "no fields to change")
			}
			if data.Updates.Title != nil && strings.TrimSpace(*data.Updates.Title) == "" {
				return nil, domain.Invalid(i, "updates.title", "must not be empty")
			}
			if data.Updates.Priority != nil {
				if err := validatePriority(i, "updates.priority", *data.Updates.Priority); err != nil {
					return nil, err
				}
			}
			p.id, p.patch = data.ID, data.Updates

		case domain.DeleteTask, domain.ToggleTask:
			var ref domain.TaskRef
			if err := decodeData(i, cmd, &ref); err != nil {
				return nil, err
			}
			if ref.ID == "" {
				return nil, domain.Invalid(i, "id", "required")
			}
			p.id = ref.ID
			if cmd.Type == domain.DeleteTask {
				track.remove(ref.ID)
			}

		case domain.ReorderTasks:
			if err := decodeData(i, cmd, &p.reorder); err != nil {
				return nil, err
			}
			src, dst := p.reorder.SourceIndex, p.reorder.DestinationIndex
			if src < 0 || dst < 0 || (track.known && (src >= len(track.ids) || dst >= len(track.ids))) {
				return nil, domain.Invalid(i, "data", fmt.Sprintf("indices %d and %d out of range", src, dst))
			}
			if track.known {
				id := track.ids[src]
				track.remove(id)
				track.ids = append(track.ids[:dst], append([]string{id}, track.ids[dst:]...)...)
			}

		case domain.ImportTasks:
			if len(cmd.Data) == 0 {
				return nil, domain.Invalid(i, "data", "required")
			}
			tasks, err := transfer.Import(cmd.Data)
			if err != nil {
				return nil, &domain.ValidationError{Index: i, Field: "data", Reason: err.Error(), Err: err}
			}
			p.tasks = tasks
			track.ids = track.ids[:0]
			for _, t := range tasks {
				track.ids = append(track.ids, t.ID)
			}
			track.known = true

		case domain.ClearTasks:
			track.ids = track.ids[:0]
			track.known = true

		case domain.Undo, domain.Redo:
			track.known = false

		case "":
			return nil, domain.Invalid(i, "type", "required")
		default:
			return nil, domain.Invalid(i, "type", fmt.Sprintf("unknown command type %q", cmd.Type))
		}
		plan = append(plan, p)
	}
	return plan, nil
}

// apply runs one validated command and returns the task it created, if any.
func (s *Server) apply(p plannedCommand) *domain.Task {
	switch p.cmd.Type {
	case domain.AddTask:
		t := s.store.AddTask(p.add)
		return &t
	case domain.UpdateTask:
		s.store.UpdateTask(p.id, p.patch)
	case domain.DeleteTask:
		s.store.DeleteTask(p.id)
	case domain.ToggleTask:
		s.store.ToggleTask(p.id)
	case domain.ReorderTasks:
		s.store.ReorderTasks(p.reorder.SourceIndex, p.reorder.DestinationIndex)
	case domain.ImportTasks:
		s.store.ImportTasks(p.tasks)
	case domain.ClearTasks:
		s.store.ClearAllTasks()
	case domain.Undo:
		s.store.Undo()
	case domain.Redo:
		s.store.Redo()
	}
	return nil
}

// dedupe reports which commands were already applied under their
// idempotency key, and the keys this call recorded. Keys added here are
// rolled back if Redis fails midway.
func (s *Server) dedupe(c echo.Context, plan []plannedCommand) ([]bool, []string, error) {
	dup := make([]bool, len(plan))
	if s.deduper == nil {
		return dup, nil, nil
	}
	var keys []string
	var idx []int
	for i, p := range plan {
		if p.cmd.IdempotencyKey != "" {
			keys = append(keys, p.cmd.IdempotencyKey)
			idx = append(idx, i)
		}
	}
	if len(keys) == 0 {
		return dup, nil, nil
	}
	added, err := s.deduper.AddMany(c.Request().Context(), s.boardID, keys)
	var recorded []string
	for j, ok := range added {
		if ok {
			recorded = append(recorded, keys[j])
		}
	}
	if err != nil {
		s.forget(c, recorded)
		return nil, nil, err
	}
	for j, ok := range added {
		dup[idx[j]] = !ok
	}
	return dup, recorded, nil
}

func (s *Server) forget(c echo.Context, keys []string) {
	for _, key := range keys {
		if err := s.deduper.Remove(c.Request().Context(), s.boardID, key); err != nil {
			s.log.WithError(err).WithField("key", key).Error("dedupe rollback failed")
		}
	}
}

func (s *Server) postCommands(c echo.Context) error {
	m := metricsFrom(c)

	lr := io.LimitReader(c.Request().Body, postCommandMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()

	cmds := make([]domain.Command, 0, 4)
	if err := dec.Decode(&cmds); err != nil {
		m.SetErrorStage("decode")
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	m.Set("commands", len(cmds))

	current := s.store.Tasks()
	plan, err := planCommands(cmds, current, nil)
	if err != nil {
		m.SetErrorStage("validate")
		return s.validationFailed(c, err)
	}

	dup, recorded, err := s.dedupe(c, plan)
	if err != nil {
		m.SetErrorStage("dedupe")
		s.log.WithError(err).Error("dedupe failed")
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "idempotency store unavailable"})
	}
	if slices.Contains(dup, true) {
		// Skipped commands change the length later reorders see.
		if plan, err = planCommands(cmds, current, dup); err != nil {
			m.SetErrorStage("validate")
			s.forget(c, recorded)
			return s.validationFailed(c, err)
		}
	}

	resp := commandsResponse{}
	for i, p := range plan {
		if dup[i] {
			resp.Skipped++
			continue
		}
		if t := s.apply(p); t != nil {
			resp.Tasks = append(resp.Tasks, *t)
		}
		resp.Applied++
	}
	resp.Revision = s.store.Revision()
	m.Set("applied", resp.Applied)
	m.Set("skipped", resp.Skipped)
	return c.JSON(http.StatusOK, resp)
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Index *int   `json:"index,omitempty"`
}

// validationFailed answers 400 for a ValidationError; any other error is
// returned to echo as an internal failure.
func (s *Server) validationFailed(c echo.Context, err error) error {
	if !domain.IsValidation(err) {
		return err
	}
	var verr *domain.ValidationError
	errors.As(err, &verr)
	resp := errorResponse{Error: err.Error(), Field: verr.Field}
	if verr.Index >= 0 {
		idx := verr.Index
		resp.Index = &idx
	}
	return c.JSON(http.StatusBadRequest, resp)
}
