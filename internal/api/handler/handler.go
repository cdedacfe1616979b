package handler

import (
	"log/slog"

	"github.com/taskforge/dispatchd/internal/dispatch"
	"github.com/taskforge/dispatchd/shared/postgresql"
	"github.com/taskforge/dispatchd/shared/rabbitmq"
)

// Pool is the read surface the status endpoints expose.
type Pool interface {
	Len() int
	Stats() []dispatch.WorkerStat
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Pool     Pool
	DBClient *postgresql.Client
	Rabbit   *rabbitmq.Client
}
