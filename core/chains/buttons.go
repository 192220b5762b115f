package chains

import (
	"context"
	"strings"

	"github.com/m3rciful/chainbot/core/apperr"
	"github.com/m3rciful/chainbot/core/store"
)

// CreateButtonInput creates a button on a step.
type CreateButtonInput struct {
	StepID     int64   `json:"step_id"`
	Text       string  `json:"text"`
	Callback   *string `json:"callback"`
	NextStepID *int64  `json:"next_step_id"`
}

// UpdateButtonInput patches a button; nil fields are left alone.
type UpdateButtonInput struct {
	Text       *string `json:"text"`
	Callback   *string `json:"callback"`
	NextStepID *int64  `json:"next_step_id"`
}

// CreateButton adds a choice to a step.
func (s *Service) CreateButton(ctx context.Context, in CreateButtonInput) (*store.Button, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, apperr.Invalid("text is required")
	}
	if err := s.checkTarget(ctx, in.StepID, in.NextStepID); err != nil {
		return nil, err
	}
	b := &store.Button{StepID: in.StepID, Text: text, Callback: in.Callback, NextStepID: in.NextStepID}
	if err := s.store.CreateButton(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// GetButton returns one button.
func (s *Service) GetButton(ctx context.Context, id int64) (*store.Button, error) {
	return s.store.GetButton(ctx, id)
}

// ListButtons returns the buttons of a step.
func (s *Service) ListButtons(ctx context.Context, stepID int64) ([]store.Button, error) {
	if _, err := s.store.GetStep(ctx, stepID); err != nil {
		return nil, err
	}
	return s.store.ListButtons(ctx, stepID)
}

// UpdateButton patches a button.
func (s *Service) UpdateButton(ctx context.Context, id int64, in UpdateButtonInput) (*store.Button, error) {
	b, err := s.store.GetButton(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Text != nil {
		text := strings.TrimSpace(*in.Text)
		if text == "" {
			return nil, apperr.Invalid("text must not be empty")
		}
		b.Text = text
	}
	if in.Callback != nil {
		b.Callback = in.Callback
	}
	if in.NextStepID != nil {
		if err := s.checkTarget(ctx, b.StepID, in.NextStepID); err != nil {
			return nil, err
		}
		b.NextStepID = in.NextStepID
	}
	if err := s.store.UpdateButton(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// SetNextStepForButton points a button at nextStepID. Pointing a button at its own step or at a
// step of another chain is rejected and leaves the button unchanged.
func (s *Service) SetNextStepForButton(ctx context.Context, buttonID, nextStepID int64) (*store.Button, error) {
	b, err := s.store.GetButton(ctx, buttonID)
	if err != nil {
		return nil, err
	}
	if err := s.checkTarget(ctx, b.StepID, &nextStepID); err != nil {
		return nil, err
	}
	b.NextStepID = &nextStepID
	if err := s.store.UpdateButton(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// DeleteButton removes a button.
func (s *Service) DeleteButton(ctx context.Context, id int64) error {
	return s.store.DeleteButton(ctx, id)
}

// checkTarget validates that a button on stepID may lead to next.
func (s *Service) checkTarget(ctx context.Context, stepID int64, next *int64) error {
	owner, err := s.store.GetStep(ctx, stepID)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	if err := selfLoop(stepID, next); err != nil {
		return err
	}
	return s.requireStepOf(ctx, owner.ChainID, *next)
}

func selfLoop(stepID int64, next *int64) error {
	if next != nil && *next == stepID {
		return apperr.Invalid("button cannot lead back to its own step")
	}
	return nil
}
