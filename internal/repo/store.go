package repo

import "github.com/jackc/pgx/v5/pgxpool"

// Store — все репозитории поверх одного пула.
type Store struct {
	Workflows  *WorkflowRepo
	Executions *ExecutionRepo
	Schedules  *ScheduleRepo
	Changes    *ChangeRepo
}

// NewStore создаёт репозитории для pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Workflows:  NewWorkflowRepo(pool),
		Executions: NewExecutionRepo(pool),
		Schedules:  NewScheduleRepo(pool),
		Changes:    NewChangeRepo(pool),
	}
}
