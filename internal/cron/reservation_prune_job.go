package cron

import (
	"context"
	"errors"

	"github.com/davidecorsi/beatstore-backend/internal/reservation"
	"github.com/davidecorsi/beatstore-backend/pkg/logger"
)

const reservationPruneJobName = "reservation_prune"

// ReservationPruneJob clears lapsed beat holds so expired reservations never
// linger between settlements. The settlement path prunes on read as well;
// this job covers beats nobody asks about.
type ReservationPruneJob struct {
	reservations reservation.Repository
	log          *logger.Logger
}

func NewReservationPruneJob(reservations reservation.Repository, logg *logger.Logger) (*ReservationPruneJob, error) {
	if reservations == nil {
		return nil, errors.New("reservation repository is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &ReservationPruneJob{reservations: reservations, log: logg}, nil
}

func (j *ReservationPruneJob) Name() string {
	return reservationPruneJobName
}

func (j *ReservationPruneJob) Run(ctx context.Context) error {
	pruned, err := j.reservations.PruneExpired(ctx)
	if err != nil {
		return err
	}
	if pruned > 0 {
		j.log.Info(j.log.WithField(ctx, "pruned", pruned), "cleared expired reservations")
	}
	return nil
}
