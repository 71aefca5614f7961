package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"membership-upgrade/internal/domain"
	"membership-upgrade/internal/domain/model"
	"membership-upgrade/internal/domain/ports/adapter"
	"membership-upgrade/internal/domain/ports/repository"
)

var _ adapter.NotificationSink = (*StoreSink)(nil)

// StoreSink writes dmails and mod actions into the service's own tables,
// inside the caller's transaction.
type StoreSink struct {
	dmails    repository.DmailRepository
	modAction repository.ModActionRepository
	tpl       *Templates
	log       *zerolog.Logger
}

func NewStoreSink(dmails repository.DmailRepository, mods repository.ModActionRepository, tpl *Templates, logger *zerolog.Logger) *StoreSink {
	l := logger.With().Str("component", "NotifySink").Logger()
	return &StoreSink{dmails: dmails, modAction: mods, tpl: tpl, log: &l}
}

func (s *StoreSink) DeliverMessage(ctx context.Context, tx any, msg adapter.Message) error {
	if msg.ToID == "" {
		return errors.Join(domain.ErrInvalidArgument, errors.New("message has no recipient"))
	}
	title, body := msg.Title, msg.Body
	if msg.Kind != "" {
		key := string(msg.Kind)
		if title == "" {
			title = s.tpl.T(key+".title", msg.Args...)
		}
		if body == "" {
			body = s.tpl.T(key+".body", msg.Args...)
		}
	}
	d := &model.Dmail{
		ID:        uuid.NewString(),
		FromID:    msg.FromID,
		ToID:      msg.ToID,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now(),
	}
	if err := s.dmails.Save(ctx, tx, d); err != nil {
		return err
	}
	s.log.Debug().Str("dmail_id", d.ID).Str("to", d.ToID).Msg("dmail stored")
	return nil
}

func (s *StoreSink) RecordModAction(ctx context.Context, tx any, entry adapter.ModActionEntry) error {
	if entry.Category == "" || entry.SubjectID == "" {
		return domain.ErrInvalidArgument
	}
	desc := entry.Description
	if desc == "" {
		desc = s.tpl.T(string(entry.Category), entry.Args...)
	}
	a := &model.ModAction{
		ID:          uuid.NewString(),
		CreatorID:   entry.ActorID,
		Category:    entry.Category,
		SubjectID:   entry.SubjectID,
		Description: desc,
		CreatedAt:   time.Now(),
	}
	if err := s.modAction.Save(ctx, tx, a); err != nil {
		return err
	}
	s.log.Info().Str("category", string(a.Category)).Str("subject", a.SubjectID).Msg("mod action recorded")
	return nil
}
