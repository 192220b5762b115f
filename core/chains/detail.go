package chains

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/m3rciful/chainbot/core/apperr"
	"github.com/m3rciful/chainbot/core/store"
)

// DetailTree is a chain rendered as a nested tree starting at its first step.
type DetailTree struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	FirstStep *StepNode `json:"first_step"`
}

// StepNode is one step of the tree. A step reached a second time is rendered as a
// back-reference carrying only its id and name.
type StepNode struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	Message   string       `json:"message"`
	TextInput bool         `json:"text_input"`
	NextStep  *StepNode    `json:"next_step"`
	Buttons   []ButtonNode `json:"buttons"`
	Ref       bool         `json:"ref,omitempty"`
}

// ButtonNode is one choice and the subtree it leads to.
type ButtonNode struct {
	ID       int64     `json:"id"`
	Text     string    `json:"text"`
	NextStep *StepNode `json:"next_step"`
}

// MarshalJSON renders back-references as {id, name, ref}.
func (n StepNode) MarshalJSON() ([]byte, error) {
	if n.Ref {
		return json.Marshal(struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
			Ref  bool   `json:"ref"`
		}{n.ID, n.Name, true})
	}
	type plain StepNode
	return json.Marshal(plain(n))
}

type treeBuilder struct {
	ctx     context.Context
	store   store.Store
	steps   map[int64]store.Step
	buttons map[int64][]store.Button
	visited map[int64]bool
}

// Detail renders the chain graph. Cycles terminate at the first revisited step.
func (s *Service) Detail(ctx context.Context, chainID int64) (*DetailTree, error) {
	chain, err := s.store.GetChain(ctx, chainID)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.ListSteps(ctx, chainID)
	if err != nil {
		return nil, err
	}
	buttons, err := s.store.ListChainButtons(ctx, chainID)
	if err != nil {
		return nil, err
	}

	b := &treeBuilder{
		ctx:     ctx,
		store:   s.store,
		steps:   make(map[int64]store.Step, len(steps)),
		buttons: make(map[int64][]store.Button, len(steps)),
		visited: make(map[int64]bool, len(steps)),
	}
	for _, st := range steps {
		b.steps[st.ID] = st
	}
	for _, btn := range buttons {
		b.buttons[btn.StepID] = append(b.buttons[btn.StepID], btn)
	}

	tree := &DetailTree{ID: chain.ID, Name: chain.Name}
	if chain.FirstStepID != nil {
		if tree.FirstStep, err = b.build(*chain.FirstStepID); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

func (b *treeBuilder) build(stepID int64) (*StepNode, error) {
	st, ok, err := b.step(stepID)
	if err != nil || !ok {
		return nil, err
	}
	if b.visited[st.ID] {
		return &StepNode{ID: st.ID, Name: st.Name, Ref: true}, nil
	}
	b.visited[st.ID] = true

	node := &StepNode{
		ID:        st.ID,
		Name:      st.Name,
		Message:   st.Message,
		TextInput: st.TextInput,
		Buttons:   []ButtonNode{},
	}
	btns, err := b.stepButtons(st)
	if err != nil {
		return nil, err
	}
	for _, btn := range btns {
		bn := ButtonNode{ID: btn.ID, Text: btn.Text}
		if btn.NextStepID != nil {
			if bn.NextStep, err = b.build(*btn.NextStepID); err != nil {
				return nil, err
			}
		}
		node.Buttons = append(node.Buttons, bn)
	}
	if st.NextStepID != nil {
		if node.NextStep, err = b.build(*st.NextStepID); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// step resolves a step, loading ones outside the chain on demand.
func (b *treeBuilder) step(id int64) (store.Step, bool, error) {
	if st, ok := b.steps[id]; ok {
		return st, true, nil
	}
	st, err := b.store.GetStep(b.ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return store.Step{}, false, nil
	}
	if err != nil {
		return store.Step{}, false, err
	}
	b.steps[id] = *st
	return *st, true, nil
}

func (b *treeBuilder) stepButtons(st store.Step) ([]store.Button, error) {
	if btns, ok := b.buttons[st.ID]; ok {
		return btns, nil
	}
	btns, err := b.store.ListButtons(b.ctx, st.ID)
	if err != nil {
		return nil, err
	}
	b.buttons[st.ID] = btns
	return btns, nil
}
