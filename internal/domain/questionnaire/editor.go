package questionnaire

import (
	"errors"
	"fmt"
)

var (
	ErrItemNotFound        = errors.New("item not found")
	ErrDuplicateLinkID     = errors.New("linkId already in use")
	ErrInvalidMove         = errors.New("item cannot be moved into its own subtree")
	ErrUnknownLanguage     = errors.New("language is not part of the questionnaire")
	ErrUnsupportedLanguage = errors.New("language is not supported")
	ErrMainLanguage        = errors.New("language is the main language")
	ErrNotTranslatable     = errors.New("field is not translatable")
	ErrValueSetNotFound    = errors.New("value set not found")
	ErrValueSetInUse       = errors.New("value set is referenced by an item")
	ErrUnknownAction       = errors.New("unknown action")
)

// Action is one mutation of a State. Apply may leave s half-modified when it
// fails; Editor only ever hands it a copy.
type Action interface {
	Apply(s *State) error
}

// Editor owns one State and applies actions to it. It is not safe for
// concurrent use; callers serialize dispatches per questionnaire.
type Editor struct {
	state *State
}

func NewEditor(s *State) *Editor {
	return &Editor{state: s}
}

// State returns the current state. Callers must not modify it.
func (e *Editor) State() *State {
	return e.state
}

// Dispatch applies the actions in order to a copy of the state and keeps the
// result only if every action succeeded.
func (e *Editor) Dispatch(actions ...Action) error {
	next := e.state.Clone()
	for i, a := range actions {
		if err := a.Apply(next); err != nil {
			return fmt.Errorf("action %d (%s): %w", i, ActionKind(a), err)
		}
	}
	e.state = next
	return nil
}
