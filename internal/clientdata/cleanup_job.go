package clientdata

import "github.com/rs/zerolog"

// CleanupJob removes expired cache rows. Scheduled periodically so cache.db
// does not grow without bound.
type CleanupJob struct {
	repo *Repository
	log  zerolog.Logger
}

// NewCleanupJob creates a cleanup job.
func NewCleanupJob(repo *Repository, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo: repo,
		log:  log.With().Str("job", "cache_cleanup").Logger(),
	}
}

// Run deletes expired rows from every cache table. Per-table failures are
// logged and do not stop the sweep.
func (j *CleanupJob) Run() {
	var total int64
	for _, table := range AllTables {
		deleted, err := j.repo.DeleteExpired(table)
		if err != nil {
			j.log.Warn().Err(err).Str("table", table).Msg("Failed to delete expired rows")
			continue
		}
		total += deleted
	}

	if total > 0 {
		j.log.Info().Int64("rows", total).Msg("Expired cache rows removed")
	}
}
