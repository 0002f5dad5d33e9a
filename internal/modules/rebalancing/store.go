package rebalancing

import (
	"sync"
)

// maxHistoryPerUser bounds how many past plans the store keeps per user.
const maxHistoryPerUser = 50

// PlanStore keeps generated plans in memory. Plans are advisory and cheap
// to regenerate, so nothing is persisted across restarts.
type PlanStore struct {
	mu      sync.RWMutex
	history map[string][]*Plan // newest last
}

// NewPlanStore creates an empty plan store.
func NewPlanStore() *PlanStore {
	return &PlanStore{
		history: make(map[string][]*Plan),
	}
}

// Save records a plan for its user, evicting the oldest entry once the
// per-user history is full.
func (s *PlanStore) Save(plan *Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plans := append(s.history[plan.User], plan)
	if len(plans) > maxHistoryPerUser {
		plans = plans[len(plans)-maxHistoryPerUser:]
	}
	s.history[plan.User] = plans
}

// Latest returns the most recent plan for a user, or nil when none exists.
func (s *PlanStore) Latest(user string) *Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plans := s.history[user]
	if len(plans) == 0 {
		return nil
	}
	return plans[len(plans)-1]
}

// History returns the stored plans for a user, oldest first.
func (s *PlanStore) History(user string) []*Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plans := s.history[user]
	out := make([]*Plan, len(plans))
	copy(out, plans)
	return out
}
