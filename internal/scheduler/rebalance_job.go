package scheduler

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/quantfolio/internal/modules/rebalancing"
)

// PlanRunner generates a rebalancing plan for one user.
type PlanRunner interface {
	PlanPurchases(user string, balanceOverride *decimal.Decimal) (*rebalancing.Plan, error)
}

// UserSource lists the users to plan for.
type UserSource interface {
	Users() ([]string, error)
}

// RebalanceJob generates a fresh plan for every enabled user. One user's
// failure does not block the others.
type RebalanceJob struct {
	runner PlanRunner
	store  *rebalancing.PlanStore
	users  UserSource
	log    zerolog.Logger
}

// NewRebalanceJob creates the periodic planning job.
func NewRebalanceJob(runner PlanRunner, store *rebalancing.PlanStore, users UserSource, log zerolog.Logger) *RebalanceJob {
	return &RebalanceJob{
		runner: runner,
		store:  store,
		users:  users,
		log:    log.With().Str("job", "rebalance_planner").Logger(),
	}
}

// Name implements Job.
func (j *RebalanceJob) Name() string { return "rebalance_planner" }

// Run implements Job.
func (j *RebalanceJob) Run() error {
	users, err := j.users.Users()
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		j.log.Debug().Msg("No users registered, nothing to plan")
		return nil
	}

	var failed int
	for _, user := range users {
		plan, err := j.runner.PlanPurchases(user, nil)
		if err != nil {
			j.log.Error().Err(err).Str("user", user).Msg("Planning failed for user")
			failed++
			continue
		}
		j.store.Save(plan)
	}

	if failed > 0 {
		return fmt.Errorf("planning failed for %d of %d users", failed, len(users))
	}
	return nil
}
