package domain

import "time"

// Option represents a possible answer for a question.
type Option struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models a multi-select question from the read-only catalog.
// An annulled question is never scoreable or verifiable.
type Question struct {
	ID       string   `json:"id"`
	Number   int      `json:"number,omitempty"`
	Prompt   string   `json:"prompt"`
	Options  []Option `json:"options"`
	Annulled bool     `json:"annulled,omitempty"`
}

// CorrectIndices returns the canonical set of correct option indices, in order.
func (q Question) CorrectIndices() []int {
	var out []int
	for i, opt := range q.Options {
		if opt.Correct {
			out = append(out, i)
		}
	}
	return out
}

// QuestionSet is the ordered catalog content for one session.
type QuestionSet struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}

// Answer is one learner's recorded selection for a question. Correct is
// meaningful only when Verified is true. An answer with no selections is
// semantically "no answer" and is never persisted as a record.
type Answer struct {
	QuestionID string    `json:"questionId"`
	Selected   []int     `json:"selected"`
	Verified   bool      `json:"verified"`
	Correct    bool      `json:"correct"`
	AnsweredAt time.Time `json:"answeredAt"`
}

// VerificationResult is derived from Question + Answer at verification
// time; it is never stored independently of the answer row.
type VerificationResult struct {
	QuestionID     string `json:"questionId"`
	UserID         string `json:"userId"`
	Correct        bool   `json:"correct"`
	CorrectIndices []int  `json:"correctIndices"`
}

// PointKind classifies ledger events.
type PointKind string

const (
	PointNormal              PointKind = "normal"
	PointRetry               PointKind = "retry"
	PointBonus               PointKind = "bonus"
	PointExplanationApproved PointKind = "explanation-approved"
)

// PointEvent is one append-only ledger entry. At most one normal event
// with a positive amount may exist per (user, question); retries always
// carry zero amount and exist only for the audit trail.
type PointEvent struct {
	UserID     string    `json:"userId"`
	QuestionID string    `json:"questionId"`
	Kind       PointKind `json:"kind"`
	Amount     int       `json:"amount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PromotedVoteWeight is the fixed multiplier a vote is upgraded to when
// its author's explanation is approved. The promotion never reverts.
const PromotedVoteWeight = 20

// Vote is one user's community vote for a question. Re-voting
// overwrites in place; at most one vote per (user, question).
type Vote struct {
	UserID              string    `json:"userId"`
	QuestionID          string    `json:"questionId"`
	Selected            []int     `json:"selected"`
	Weight              int       `json:"weight"`
	HasExplanation      bool      `json:"hasExplanation"`
	ExplanationApproved bool      `json:"explanationApproved"`
	VotedAt             time.Time `json:"votedAt"`
}

// HasSelection reports whether the vote carries an actual choice. An
// approval recorded before the user voted leaves a weight-only
// placeholder that must not contribute to tallies.
func (v Vote) HasSelection() bool {
	return len(v.Selected) > 0
}

// VoteTally is the per-question aggregate, recomputed from the full
// vote set on every mutation. Counts is keyed by option letter for the
// external representation.
type VoteTally struct {
	QuestionID string         `json:"questionId"`
	Counts     map[string]int `json:"counts"`
	TotalVotes int            `json:"totalVotes"`
}

// SnapshotKey scopes one locally cached session.
type SnapshotKey struct {
	UserID      string `json:"userId"`
	SessionType string `json:"sessionType"`
	SessionID   string `json:"sessionId"`
}

// SessionSnapshot is the client-local cache of an in-progress session.
// Answers and verification are keyed by question index within the
// session's ordered question set.
type SessionSnapshot struct {
	SnapshotKey
	Answers        map[int][]int              `json:"answers"`
	CurrentIndex   int                        `json:"currentIndex"`
	ElapsedSeconds int                        `json:"elapsedSeconds"`
	Flagged        []int                      `json:"flagged"`
	Verification   map[int]VerificationResult `json:"verification"`
	SavedAt        time.Time                  `json:"savedAt"`
}
