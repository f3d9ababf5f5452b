// Package shortcuts maps key events to board intents.
package shortcuts

import "strings"

type Action string

const (
	None        Action = ""
	Undo        Action = "undo"
	Redo        Action = "redo"
	NewTask     Action = "new-task"
	FocusSearch Action = "focus-search"
	Escape      Action = "escape"
)

// KeyEvent is a key press as reported by the client. Target is the tag name
// of the focused element, if any.
type KeyEvent struct {
	Key    string `json:"key"`
	Ctrl   bool   `json:"ctrlKey"`
	Meta   bool   `json:"metaKey"`
	Shift  bool   `json:"shiftKey"`
	Target string `json:"target,omitempty"`
}

// Result reports the matched action and whether the client should suppress
// the browser default for the key.
type Result struct {
	Action         Action `json:"action"`
	PreventDefault bool   `json:"preventDefault"`
}

// Handlers are invoked by Dispatch. Nil handlers are skipped.
type Handlers struct {
	OnUndo        func()
	OnRedo        func()
	OnNewTask     func()
	OnFocusSearch func()
	OnEscape      func()
}

func typingTarget(target string) bool {
	switch strings.ToUpper(target) {
	case "INPUT", "TEXTAREA":
		return true
	}
	return false
}

// Match resolves ev to an action without side effects.
func Match(ev KeyEvent) Result {
	mod := ev.Ctrl || ev.Meta
	key := strings.ToLower(ev.Key)
	switch {
	case mod && key == "z" && !ev.Shift:
		return Result{Action: Undo, PreventDefault: true}
	case mod && (key == "y" || (key == "z" && ev.Shift)):
		return Result{Action: Redo, PreventDefault: true}
	case mod && key == "n":
		return Result{Action: NewTask, PreventDefault: true}
	case ev.Key == "/" && !mod:
		if typingTarget(ev.Target) {
			return Result{}
		}
		return Result{Action: FocusSearch, PreventDefault: true}
	case ev.Key == "Escape":
		return Result{Action: Escape}
	}
	return Result{}
}

// Dispatch matches ev and runs the corresponding handler.
func Dispatch(ev KeyEvent, h Handlers) Result {
	res := Match(ev)
	var fn func()
	switch res.Action {
	case Undo:
		fn = h.OnUndo
	case Redo:
		fn = h.OnRedo
	case NewTask:
		fn = h.OnNewTask
	case FocusSearch:
		fn = h.OnFocusSearch
	case Escape:
		fn = h.OnEscape
	}
	if fn != nil {
		fn()
	}
	return res
}
