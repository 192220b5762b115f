// Package chains authors conversation graphs: chains, their steps and the buttons between them.
package chains

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/m3rciful/chainbot/core/apperr"
	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/store"
	"github.com/m3rciful/chainbot/core/telegram"
)

const (
	firstStepName    = "First step"
	firstStepMessage = "Start of chain"
	componentChains  = "chains"
)

// Service implements chain authoring over a Store.
type Service struct {
	store store.Store
	tg    telegram.Factory
}

// NewService returns a chain service. tg is used to enrich chain results with Telegram profiles.
func NewService(st store.Store, tg telegram.Factory) *Service {
	return &Service{store: st, tg: tg}
}

// CreateChainInput creates a chain.
type CreateChainInput struct {
	BotID int64  `json:"bot_id"`
	Name  string `json:"name"`
}

// UpdateChainInput patches a chain; nil fields are left alone.
type UpdateChainInput struct {
	Name        *string `json:"name"`
	FirstStepID *int64  `json:"first_chain_step_id"`
}

// CreateChain inserts the chain together with its placeholder first step in one transaction.
func (s *Service) CreateChain(ctx context.Context, in CreateChainInput) (*store.Chain, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Invalid("name is required")
	}
	if _, err := s.store.GetBot(ctx, in.BotID); err != nil {
		return nil, err
	}

	var chain store.Chain
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		chain = store.Chain{BotID: in.BotID, Name: name}
		if err := tx.CreateChain(ctx, &chain); err != nil {
			return err
		}
		first := store.Step{ChainID: chain.ID, Name: firstStepName, Message: firstStepMessage}
		if err := tx.CreateStep(ctx, &first); err != nil {
			return err
		}
		chain.FirstStepID = &first.ID
		return tx.UpdateChain(ctx, &chain)
	})
	if err != nil {
		return nil, nameTaken(err, name)
	}

	logger.Info(logger.WithBotID(ctx, in.BotID), componentChains, "chain.create",
		slog.String("outcome", "ok"),
		slog.Int64("chain_id", chain.ID),
	)
	return &chain, nil
}

// GetChain returns one chain.
func (s *Service) GetChain(ctx context.Context, id int64) (*store.Chain, error) {
	return s.store.GetChain(ctx, id)
}

// ListChains returns the chains of a bot.
func (s *Service) ListChains(ctx context.Context, botID int64) ([]store.Chain, error) {
	if _, err := s.store.GetBot(ctx, botID); err != nil {
		return nil, err
	}
	return s.store.ListChains(ctx, botID)
}

// UpdateChain renames a chain or relinks its first step.
func (s *Service) UpdateChain(ctx context.Context, id int64, in UpdateChainInput) (*store.Chain, error) {
	c, err := s.store.GetChain(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.Invalid("name must not be empty")
		}
		c.Name = name
	}
	if in.FirstStepID != nil {
		if err := s.requireStepOf(ctx, c.ID, *in.FirstStepID); err != nil {
			return nil, err
		}
		c.FirstStepID = in.FirstStepID
	}
	if err := s.store.UpdateChain(ctx, c); err != nil {
		return nil, nameTaken(err, c.Name)
	}
	return c, nil
}

// DeleteChain removes a chain with its steps and buttons. Sessions survive with cleared pointers.
func (s *Service) DeleteChain(ctx context.Context, id int64) error {
	if err := s.store.DeleteChain(ctx, id); err != nil {
		return err
	}
	logger.Info(ctx, componentChains, "chain.delete",
		slog.String("outcome", "ok"),
		slog.Int64("chain_id", id),
	)
	return nil
}

// requireStepOf checks that stepID exists and belongs to chainID.
func (s *Service) requireStepOf(ctx context.Context, chainID, stepID int64) error {
	st, err := s.store.GetStep(ctx, stepID)
	if err != nil {
		return err
	}
	if st.ChainID != chainID {
		return apperr.Invalid("step %d belongs to another chain", stepID)
	}
	return nil
}

func nameTaken(err error, name string) error {
	if errors.Is(err, apperr.ErrConflict) {
		return apperr.Invalid("chain with name %q already exists", name)
	}
	return err
}
