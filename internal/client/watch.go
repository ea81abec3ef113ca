package client

import (
	"context"
	"time"

	"github.com/atinyakov/keyescrow/internal/models"
)

// DetailsFetcher returns the current details of a record.
type DetailsFetcher interface {
	KeyDetails(ctx context.Context, keyID uint64) (*models.KeyDetails, error)
}

// Watch polls the record filed under keyID every interval until it has been
// retrieved, the context ends or a query fails. onPoll, if set, sees every
// successful poll.
func Watch(
	ctx context.Context,
	api DetailsFetcher,
	keyID uint64,
	interval time.Duration,
	onPoll func(*models.KeyDetails),
) (*models.KeyDetails, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		details, err := api.KeyDetails(ctx, keyID)
		if err != nil {
			return nil, err
		}
		if onPoll != nil {
			onPoll(details)
		}
		if details.Retrieved {
			return details, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
