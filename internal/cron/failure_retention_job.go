package cron

import (
	"context"
	"errors"

	"github.com/davidecorsi/beatstore-backend/internal/orders"
	"github.com/davidecorsi/beatstore-backend/pkg/logger"
)

const (
	failureRetentionJobName = "webhook_failure_retention"
	defaultRetentionDays    = 30
)

// FailureRetentionJob drops webhook failure records once they are too old to
// be worth reconciling by hand.
type FailureRetentionJob struct {
	orders        orders.Repository
	log           *logger.Logger
	retentionDays int
}

func NewFailureRetentionJob(ordersRepo orders.Repository, logg *logger.Logger, retentionDays int) (*FailureRetentionJob, error) {
	if ordersRepo == nil {
		return nil, errors.New("orders repository is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	return &FailureRetentionJob{orders: ordersRepo, log: logg, retentionDays: retentionDays}, nil
}

func (j *FailureRetentionJob) Name() string {
	return failureRetentionJobName
}

func (j *FailureRetentionJob) Run(ctx context.Context) error {
	pruned, err := j.orders.PruneFailuresBefore(ctx, j.retentionDays)
	if err != nil {
		return err
	}
	if pruned > 0 {
		j.log.Info(j.log.WithField(ctx, "pruned", pruned), "dropped aged webhook failure records")
	}
	return nil
}
