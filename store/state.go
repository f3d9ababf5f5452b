package store

import (
	"slices"

	"prism-tasks/domain"
)

// State is one immutable value of the board: the current collection and the
// two history stacks (most recent last). Methods on reducer return new States
// and never write into memory reachable from their input, so any State or
// snapshot handed out stays valid forever.
type State struct {
	Tasks  []domain.Task   `json:"tasks"`
	Past   [][]domain.Task `json:"past"`
	Future [][]domain.Task `json:"future"`
}

type reducer struct {
	clock domain.Clock
	ids   domain.IDGenerator
	// limit caps len(Past); zero keeps every checkpoint.
	limit int
}

func (r reducer) checkpoint(s State) State {
	past := append(slices.Clip(s.Past), s.Tasks)
	if r.limit > 0 && len(past) > r.limit {
		past = past[len(past)-r.limit:]
	}
	return State{Tasks: s.Tasks, Past: past, Future: nil}
}

func indexOf(tasks []domain.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (r reducer) add(s State, f domain.NewTask) (State, domain.Task) {
	next := r.checkpoint(s)
	now := r.clock.Now()
	task := domain.Task{
		ID:          r.ids.NewID(),
		Title:       f.Title,
		Description: f.Description,
		Category:    f.Category,
		Priority:    f.Priority,
		Completed:   false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if task.Category == "" {
		task.Category = domain.DefaultCategory
	}
	if task.Priority == "" {
		task.Priority = domain.PriorityMedium
	}
	next.Tasks = append(slices.Clip(s.Tasks), task)
	return next, task
}

func (r reducer) update(s State, id string, p domain.TaskPatch) State {
	next := r.checkpoint(s)
	i := indexOf(s.Tasks, id)
	if i < 0 {
		return next
	}
	tasks := slices.Clone(s.Tasks)
	tasks[i] = p.Apply(tasks[i], r.clock.Now())
	next.Tasks = tasks
	return next
}

func (r reducer) remove(s State, id string) State {
	next := r.checkpoint(s)
	tasks := make([]domain.Task, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		if t.ID != id {
			tasks = append(tasks, t)
		}
	}
	next.Tasks = tasks
	return next
}

func (r reducer) toggle(s State, id string) State {
	next := r.checkpoint(s)
	i := indexOf(s.Tasks, id)
	if i < 0 {
		return next
	}
	tasks := slices.Clone(s.Tasks)
	tasks[i].Completed = !tasks[i].Completed
	tasks[i].UpdatedAt = r.clock.Now()
	next.Tasks = tasks
	return next
}

// reorder leaves the collection as is when either index is out of range; the
// checkpoint is still taken.
func (r reducer) reorder(s State, src, dst int) State {
	next := r.checkpoint(s)
	n := len(s.Tasks)
	if src < 0 || src >= n || dst < 0 || dst >= n {
		return next
	}
	tasks := make([]domain.Task, 0, n)
	tasks = append(tasks, s.Tasks[:src]...)
	tasks = append(tasks, s.Tasks[src+1:]...)
	tasks = slices.Insert(tasks, dst, s.Tasks[src])
	next.Tasks = tasks
	return next
}

func (r reducer) replace(s State, tasks []domain.Task) State {
	next := r.checkpoint(s)
	next.Tasks = domain.CloneTasks(tasks)
	return next
}

func (r reducer) clear(s State) State {
	next := r.checkpoint(s)
	next.Tasks = []domain.Task{}
	return next
}

func (r reducer) undo(s State) (State, bool) {
	if len(s.Past) == 0 {
		return s, false
	}
	last := len(s.Past) - 1
	return State{
		Tasks:  s.Past[last],
		Past:   slices.Clip(s.Past[:last]),
		Future: append(slices.Clip(s.Future), s.Tasks),
	}, true
}

func (r reducer) redo(s State) (State, bool) {
	if len(s.Future) == 0 {
		return s, false
	}
	last := len(s.Future) - 1
	return State{
		Tasks:  s.Future[last],
		Past:   append(slices.Clip(s.Past), s.Tasks),
		Future: slices.Clip(s.Future[:last]),
	}, true
}
