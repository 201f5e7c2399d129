// Package session holds the client-side state of one active exam
// session: the in-memory answer map and the snapshot shape the sync
// layer persists.
package session

import (
	"sort"

	"exam-session-service/internal/domain"
)

// AnswerStore is the per-question map of selected option indices for
// the active session. It is pure data: mutations are picked up by the
// sync coordinator through structural diffs, not events, so that
// out-of-order UI re-renders cannot lose updates.
type AnswerStore struct {
	questions []domain.Question
	selected  map[int]map[int]struct{}
	verified  map[int]struct{}
}

// NewAnswerStore builds a store over the session's ordered question set.
func NewAnswerStore(questions []domain.Question) *AnswerStore {
	return &AnswerStore{
		questions: questions,
		selected:  make(map[int]map[int]struct{}),
		verified:  make(map[int]struct{}),
	}
}

// Select toggles membership of optionIndex in the question's selection
// set. It is a silent no-op when the question is annulled, already
// verified, or out of range. Removing the last selected option deletes
// the entry entirely: absence and empty are the same state.
func (s *AnswerStore) Select(questionIndex, optionIndex int) {
	if questionIndex < 0 || questionIndex >= len(s.questions) {
		return
	}
	q := s.questions[questionIndex]
	if q.Annulled {
		return
	}
	if _, locked := s.verified[questionIndex]; locked {
		return
	}
	if optionIndex < 0 || optionIndex >= len(q.Options) {
		return
	}

	set, ok := s.selected[questionIndex]
	if !ok {
		set = make(map[int]struct{})
		s.selected[questionIndex] = set
	}
	if _, on := set[optionIndex]; on {
		delete(set, optionIndex)
		if len(set) == 0 {
			delete(s.selected, questionIndex)
		}
		return
	}
	set[optionIndex] = struct{}{}
}

// Get returns the sorted selection for a question, empty if unanswered.
func (s *AnswerStore) Get(questionIndex int) []int {
	set, ok := s.selected[questionIndex]
	if !ok {
		return nil
	}
	out := make([]int, 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Replace installs a selection wholesale, used when restoring prior
// state. An empty selection clears the entry.
func (s *AnswerStore) Replace(questionIndex int, selection []int) {
	if questionIndex < 0 || questionIndex >= len(s.questions) {
		return
	}
	if len(selection) == 0 {
		delete(s.selected, questionIndex)
		return
	}
	set := make(map[int]struct{}, len(selection))
	for _, i := range selection {
		set[i] = struct{}{}
	}
	s.selected[questionIndex] = set
}

// MarkVerified locks a question's selection against further toggling.
func (s *AnswerStore) MarkVerified(questionIndex int) {
	s.verified[questionIndex] = struct{}{}
}

// IsVerified reports whether the question's answer is locked.
func (s *AnswerStore) IsVerified(questionIndex int) bool {
	_, ok := s.verified[questionIndex]
	return ok
}

// Snapshot copies the full answer map for persistence.
func (s *AnswerStore) Snapshot() map[int][]int {
	out := make(map[int][]int, len(s.selected))
	for idx := range s.selected {
		out[idx] = s.Get(idx)
	}
	return out
}

// ChangedSince returns the question indices whose selection differs
// structurally from the baseline, including questions cleared since.
func (s *AnswerStore) ChangedSince(baseline map[int][]int) []int {
	var changed []int
	for idx := range s.selected {
		if !equalSelection(s.Get(idx), baseline[idx]) {
			changed = append(changed, idx)
		}
	}
	for idx := range baseline {
		if _, ok := s.selected[idx]; !ok && len(baseline[idx]) > 0 {
			changed = append(changed, idx)
		}
	}
	sort.Ints(changed)
	return changed
}

// Question returns the catalog entry for an index.
func (s *AnswerStore) Question(questionIndex int) (domain.Question, bool) {
	if questionIndex < 0 || questionIndex >= len(s.questions) {
		return domain.Question{}, false
	}
	return s.questions[questionIndex], true
}

// Len returns the number of questions in the session.
func (s *AnswerStore) Len() int {
	return len(s.questions)
}

func equalSelection(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
