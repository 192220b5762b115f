package chains

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/m3rciful/chainbot/core/apperr"
	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/store"
	"github.com/m3rciful/chainbot/core/telegram"
)

const (
	maxPerPage       = 100
	enrichFanOut     = 8
	unknownFirstName = "Unknown"
)

// ResultItem is one user's progress through a chain.
type ResultItem struct {
	UserID          int64         `json:"user_id"`
	Username        *string       `json:"username"`
	FirstName       string        `json:"first_name"`
	LastName        *string       `json:"last_name"`
	Photo           *string       `json:"photo"`
	Answers         store.Answers `json:"answers"`
	LastInteraction time.Time     `json:"last_interaction"`
	CurrentStep     *int64        `json:"current_step"`
}

// Results is one page of chain results.
type Results struct {
	Items      []ResultItem `json:"items"`
	Total      int          `json:"total"`
	Page       int          `json:"page"`
	PerPage    int          `json:"per_page"`
	TotalPages int          `json:"total_pages"`
}

// Results lists the sessions of a chain newest first, with the users' profile data.
func (s *Service) Results(ctx context.Context, chainID int64, page, perPage int) (*Results, error) {
	if page < 1 {
		return nil, apperr.Invalid("page must be at least 1")
	}
	if perPage < 1 || perPage > maxPerPage {
		return nil, apperr.Invalid("per_page must be between 1 and %d", maxPerPage)
	}
	chain, err := s.store.GetChain(ctx, chainID)
	if err != nil {
		return nil, err
	}
	bot, err := s.store.GetBot(ctx, chain.BotID)
	if err != nil {
		return nil, err
	}

	sessions, total, err := s.store.ListChainSessions(ctx, chainID, store.Page{Limit: perPage, Offset: (page - 1) * perPage})
	if err != nil {
		return nil, err
	}
	out := &Results{Items: make([]ResultItem, len(sessions)), Total: total, Page: page, PerPage: perPage}
	if total > 0 {
		out.TotalPages = (total + perPage - 1) / perPage
	}
	if len(sessions) == 0 {
		return out, nil
	}

	userIDs := make([]int64, len(sessions))
	for i, ss := range sessions {
		userIDs[i] = ss.UserID
	}
	subs, err := s.store.GetSubscribers(ctx, bot.ID, userIDs)
	if err != nil {
		return nil, err
	}
	for i, ss := range sessions {
		item := ResultItem{
			UserID:          ss.UserID,
			FirstName:       unknownFirstName,
			Answers:         ss.Result,
			LastInteraction: ss.UpdatedAt,
			CurrentStep:     ss.StepID,
		}
		if sub, ok := subs[ss.UserID]; ok {
			applySubscriber(&item, sub)
		}
		out.Items[i] = item
	}

	s.enrich(ctx, bot, out.Items)
	return out, nil
}

func applySubscriber(item *ResultItem, sub store.Subscriber) {
	if sub.Username != "" {
		item.Username = &sub.Username
	}
	if sub.FirstName != "" {
		item.FirstName = sub.FirstName
	}
	if sub.LastName != "" {
		item.LastName = &sub.LastName
	}
}

// enrich fills profile fields from Telegram. Failures keep the stored values.
func (s *Service) enrich(ctx context.Context, bot *store.Bot, items []ResultItem) {
	if s.tg == nil {
		return
	}
	client, err := s.tg.New(bot.Token)
	if err != nil {
		return
	}
	ctx = logger.WithBotID(ctx, bot.ID)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichFanOut)
	for i := range items {
		item := &items[i]
		g.Go(func() error {
			chat, err := client.GetChat(gctx, item.UserID)
			if err != nil {
				logger.Debug(gctx, componentChains, "chain.results.enrich",
					slog.String("outcome", "noop"),
					slog.Int64("user_id", item.UserID),
					slog.String("err", telegram.Redact(err)),
				)
				return nil
			}
			if chat.Username != "" {
				username := chat.Username
				item.Username = &username
			}
			if chat.FirstName != "" {
				item.FirstName = chat.FirstName
			}
			if chat.LastName != "" {
				last := chat.LastName
				item.LastName = &last
			}
			if photo, err := client.ProfilePhoto(gctx, item.UserID); err == nil && photo != "" {
				item.Photo = &photo
			}
			return nil
		})
	}
	_ = g.Wait()
}
