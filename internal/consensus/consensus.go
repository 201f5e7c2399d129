// Package consensus maintains the crowd-sourced per-question vote
// tallies, independent of any single exam session.
package consensus

import (
	"context"
	"sync"
	"time"

	"exam-session-service/internal/domain"
	"exam-session-service/internal/verify"
)

// VoteStore persists one vote per (user, question), last write wins.
type VoteStore interface {
	Upsert(ctx context.Context, vote domain.Vote) error
	Get(ctx context.Context, userID, questionID string) (domain.Vote, bool, error)
	ForQuestion(ctx context.Context, questionID string) ([]domain.Vote, error)
}

// Consensus coordinates vote upserts, weight promotion, and tally
// recomputation. Tallies are recomputed from the full vote set on every
// mutation and cached only for read, so they can never drift from the
// underlying votes.
type Consensus struct {
	votes  VoteStore
	ledger verify.Ledger
	now    func() time.Time

	mu      sync.RWMutex
	tallies map[string]domain.VoteTally

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewConsensus(votes VoteStore, ledger verify.Ledger) *Consensus {
	return NewConsensusWithClock(votes, ledger, time.Now)
}

// NewConsensusWithClock allows deterministic timestamps in tests.
func NewConsensusWithClock(votes VoteStore, ledger verify.Ledger, now func() time.Time) *Consensus {
	return &Consensus{
		votes:   votes,
		ledger:  ledger,
		now:     now,
		tallies: make(map[string]domain.VoteTally),
		locks:   make(map[string]*sync.Mutex),
	}
}

// CastVote upserts the user's vote, overwrite-in-place. Unlike a
// verified answer, a community vote can change freely. A previously
// promoted weight survives the re-vote.
func (c *Consensus) CastVote(ctx context.Context, userID, questionID string, selected []int) (domain.VoteTally, error) {
	// Upsert and recompute must not interleave across voters for the
	// same question, or a stale recomputation could overwrite a fresher
	// cached tally and drift until the next mutation.
	lock := c.lockFor(questionID)
	lock.Lock()
	defer lock.Unlock()

	vote := domain.Vote{
		UserID:     userID,
		QuestionID: questionID,
		Selected:   selected,
		Weight:     1,
		VotedAt:    c.now(),
	}
	if prior, ok, err := c.votes.Get(ctx, userID, questionID); err != nil {
		return domain.VoteTally{}, err
	} else if ok {
		vote.Weight = prior.Weight
		vote.HasExplanation = prior.HasExplanation
		vote.ExplanationApproved = prior.ExplanationApproved
	}
	if err := c.votes.Upsert(ctx, vote); err != nil {
		return domain.VoteTally{}, err
	}
	return c.recompute(ctx, questionID)
}

// MarkExplanationApproved promotes the user's vote weight to the fixed
// multiplier, exactly once, and settles the one-time approval bonus.
// Approval before the user has voted is not an error: the promotion is
// parked on a placeholder record so a later vote inherits the weight.
func (c *Consensus) MarkExplanationApproved(ctx context.Context, userID, questionID string) (domain.VoteTally, error) {
	lock := c.lockFor(questionID)
	lock.Lock()
	defer lock.Unlock()

	vote, ok, err := c.votes.Get(ctx, userID, questionID)
	if err != nil {
		return domain.VoteTally{}, err
	}
	if !ok {
		vote = domain.Vote{UserID: userID, QuestionID: questionID, VotedAt: c.now()}
	}
	vote.HasExplanation = true
	vote.ExplanationApproved = true
	vote.Weight = domain.PromotedVoteWeight
	if err := c.votes.Upsert(ctx, vote); err != nil {
		return domain.VoteTally{}, err
	}

	// Bonus is guarded like the normal award: once per (user, question).
	already, err := c.ledger.HasAward(ctx, userID, questionID, domain.PointExplanationApproved)
	if err != nil {
		return domain.VoteTally{}, err
	}
	if !already {
		event := domain.PointEvent{
			UserID:     userID,
			QuestionID: questionID,
			Kind:       domain.PointExplanationApproved,
			Amount:     1,
			CreatedAt:  c.now(),
		}
		if err := c.ledger.Append(ctx, event); err != nil {
			return domain.VoteTally{}, err
		}
	}
	return c.recompute(ctx, questionID)
}

// TallyFor serves the cached tally, recomputing on a cold cache.
func (c *Consensus) TallyFor(ctx context.Context, questionID string) (domain.VoteTally, error) {
	c.mu.RLock()
	tally, ok := c.tallies[questionID]
	c.mu.RUnlock()
	if ok {
		return tally, nil
	}

	lock := c.lockFor(questionID)
	lock.Lock()
	defer lock.Unlock()
	c.mu.RLock()
	tally, ok = c.tallies[questionID]
	c.mu.RUnlock()
	if ok {
		return tally, nil
	}
	return c.recompute(ctx, questionID)
}

// UserVote returns the user's current vote for a question, if any
// selection has been cast (approval placeholders do not count).
func (c *Consensus) UserVote(ctx context.Context, userID, questionID string) (domain.Vote, bool, error) {
	vote, ok, err := c.votes.Get(ctx, userID, questionID)
	if err != nil || !ok {
		return domain.Vote{}, false, err
	}
	if !vote.HasSelection() {
		return domain.Vote{}, false, nil
	}
	return vote, true, nil
}

// VoterCount returns the number of distinct users who cast an actual
// selection for the question, regardless of weight.
func (c *Consensus) VoterCount(ctx context.Context, questionID string) (int, error) {
	votes, err := c.votes.ForQuestion(ctx, questionID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, vote := range votes {
		if vote.HasSelection() {
			count++
		}
	}
	return count, nil
}

func (c *Consensus) lockFor(questionID string) *sync.Mutex {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	lock, ok := c.locks[questionID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[questionID] = lock
	}
	return lock
}

func (c *Consensus) recompute(ctx context.Context, questionID string) (domain.VoteTally, error) {
	votes, err := c.votes.ForQuestion(ctx, questionID)
	if err != nil {
		return domain.VoteTally{}, err
	}
	tally := Tally(questionID, votes)

	c.mu.Lock()
	c.tallies[questionID] = tally
	c.mu.Unlock()
	return tally, nil
}

// Tally folds a vote set into the per-letter weighted counts. Each
// selected option receives the vote's full weight; TotalVotes is the
// summed weight of all contributing votes.
func Tally(questionID string, votes []domain.Vote) domain.VoteTally {
	tally := domain.VoteTally{QuestionID: questionID, Counts: make(map[string]int)}
	for _, vote := range votes {
		if !vote.HasSelection() {
			continue
		}
		for _, idx := range vote.Selected {
			letter, err := IndexToLetter(idx)
			if err != nil {
				continue
			}
			tally.Counts[letter] += vote.Weight
		}
		tally.TotalVotes += vote.Weight
	}
	return tally
}
