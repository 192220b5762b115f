package chains

import (
	"context"
	"strings"

	"github.com/m3rciful/chainbot/core/apperr"
	"github.com/m3rciful/chainbot/core/store"
)

// CreateStepInput creates a step. Exactly one of IsFirstStepOfChain and
// SetAsNextStepForButtonID decides where the new step is linked in.
type CreateStepInput struct {
	ChainID                  int64  `json:"chain_id"`
	Name                     string `json:"name"`
	Message                  string `json:"message"`
	TextInput                bool   `json:"text_input"`
	NextStepID               *int64 `json:"next_step_id"`
	IsFirstStepOfChain       bool   `json:"is_first_step_of_chain"`
	SetAsNextStepForButtonID *int64 `json:"set_as_next_step_for_button_id"`
}

// UpdateStepInput patches a step; nil fields are left alone.
type UpdateStepInput struct {
	Name       *string `json:"name"`
	Message    *string `json:"message"`
	TextInput  *bool   `json:"text_input"`
	NextStepID *int64  `json:"next_step_id"`
}

// CreateStep inserts a step and links it as the chain's first step or as a button's target.
func (s *Service) CreateStep(ctx context.Context, in CreateStepInput) (*store.Step, error) {
	if in.IsFirstStepOfChain == (in.SetAsNextStepForButtonID != nil) {
		return nil, apperr.Invalid("exactly one of is_first_step_of_chain and set_as_next_step_for_button_id is required")
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, apperr.Invalid("message is required")
	}

	var step store.Step
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		chain, err := tx.GetChain(ctx, in.ChainID)
		if err != nil {
			return err
		}
		if in.NextStepID != nil {
			next, err := tx.GetStep(ctx, *in.NextStepID)
			if err != nil {
				return err
			}
			if next.ChainID != chain.ID {
				return apperr.Invalid("next step %d belongs to another chain", next.ID)
			}
		}

		var button *store.Button
		if in.SetAsNextStepForButtonID != nil {
			button, err = tx.GetButton(ctx, *in.SetAsNextStepForButtonID)
			if err != nil {
				return err
			}
			owner, err := tx.GetStep(ctx, button.StepID)
			if err != nil {
				return err
			}
			if owner.ChainID != chain.ID {
				return apperr.NotFound("button %d in chain %d", button.ID, chain.ID)
			}
		}

		step = store.Step{
			ChainID:    chain.ID,
			Name:       strings.TrimSpace(in.Name),
			Message:    in.Message,
			TextInput:  in.TextInput,
			NextStepID: in.NextStepID,
		}
		if err := tx.CreateStep(ctx, &step); err != nil {
			return err
		}

		if in.IsFirstStepOfChain {
			chain.FirstStepID = &step.ID
			return tx.UpdateChain(ctx, chain)
		}
		button.NextStepID = &step.ID
		return tx.UpdateButton(ctx, button)
	})
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// GetStep returns one step.
func (s *Service) GetStep(ctx context.Context, id int64) (*store.Step, error) {
	return s.store.GetStep(ctx, id)
}

// ListSteps returns every step of a chain.
func (s *Service) ListSteps(ctx context.Context, chainID int64) ([]store.Step, error) {
	if _, err := s.store.GetChain(ctx, chainID); err != nil {
		return nil, err
	}
	return s.store.ListSteps(ctx, chainID)
}

// UpdateStep patches a step.
func (s *Service) UpdateStep(ctx context.Context, id int64, in UpdateStepInput) (*store.Step, error) {
	st, err := s.store.GetStep(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		st.Name = strings.TrimSpace(*in.Name)
	}
	if in.Message != nil {
		if strings.TrimSpace(*in.Message) == "" {
			return nil, apperr.Invalid("message must not be empty")
		}
		st.Message = *in.Message
	}
	if in.TextInput != nil {
		st.TextInput = *in.TextInput
	}
	if in.NextStepID != nil {
		if *in.NextStepID == st.ID {
			return nil, apperr.Invalid("step cannot continue into itself")
		}
		if err := s.requireStepOf(ctx, st.ChainID, *in.NextStepID); err != nil {
			return nil, err
		}
		st.NextStepID = in.NextStepID
	}
	if err := s.store.UpdateStep(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// DeleteStep removes a step and its buttons; pointers to it are cleared.
func (s *Service) DeleteStep(ctx context.Context, id int64) error {
	return s.store.DeleteStep(ctx, id)
}
