package task

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMissingIdentifier = errors.New("no task identifier provided")
	ErrNotFound          = errors.New("no task matches the identifier")
)

// ResolutionError reports why a reference did not select a task. Candidates
// holds the list the reference was resolved against so the caller can offer
// it back for disambiguation.
type ResolutionError struct {
	Reason     error
	Identifier string
	Candidates []Task
}

func (e *ResolutionError) Error() string {
	if e.Identifier == "" {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%s: %q", e.Reason, e.Identifier)
}

func (e *ResolutionError) Unwrap() error {
	return e.Reason
}

// Resolve maps a loose reference to exactly one task. The identifier is tried
// as an exact id, then as a case-insensitive substring of the task text (the
// first match in list order wins), then as a 1-based position in candidates.
func Resolve(identifier *string, candidates []Task) (Task, error) {
	if identifier == nil || strings.TrimSpace(*identifier) == "" {
		return Task{}, &ResolutionError{Reason: ErrMissingIdentifier, Candidates: candidates}
	}
	ref := strings.TrimSpace(*identifier)

	for _, t := range candidates {
		if t.ID == ref {
			return t, nil
		}
	}

	needle := strings.ToLower(ref)
	for _, t := range candidates {
		if strings.Contains(strings.ToLower(t.Text), needle) {
			return t, nil
		}
	}

	if index, err := strconv.Atoi(ref); err == nil && index >= 1 && index <= len(candidates) {
		return candidates[index-1], nil
	}

	return Task{}, &ResolutionError{Reason: ErrNotFound, Identifier: ref, Candidates: candidates}
}
