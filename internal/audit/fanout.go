package audit

import (
	"context"
	"errors"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
)

// FanOut пишет пачку во все приемники. Сбой одного не мешает остальным.
type FanOut []Sink

func (f FanOut) WriteBatch(ctx context.Context, events []domain.AuditEvent) error {
	var errs []error
	for _, s := range f {
		if err := s.WriteBatch(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
