package usecase

import (
	"errors"

	"bytemomo/redstorm/internal/domain"
)

// FanoutPublisher delivers every event to each wrapped publisher. All
// publishers are attempted; their errors are joined for logging.
type FanoutPublisher []domain.EventPublisher

func (f FanoutPublisher) Publish(clientID string, ev domain.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(clientID, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
