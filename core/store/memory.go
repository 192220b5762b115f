package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m3rciful/chainbot/core/apperr"
)

type memData struct {
	seq int64

	bots        map[int64]Bot
	menus       map[int64]MainMenu
	menuButtons map[int64]MenuButton
	chains      map[int64]Chain
	steps       map[int64]Step
	buttons     map[int64]Button
	sessions    map[int64]Session
	subscribers map[int64]Subscriber
	mailings    map[string]Mailing
}

func newMemData() *memData {
	return &memData{
		bots:        map[int64]Bot{},
		menus:       map[int64]MainMenu{},
		menuButtons: map[int64]MenuButton{},
		chains:      map[int64]Chain{},
		steps:       map[int64]Step{},
		buttons:     map[int64]Button{},
		sessions:    map[int64]Session{},
		subscribers: map[int64]Subscriber{},
		mailings:    map[string]Mailing{},
	}
}

func (d *memData) clone() *memData {
	c := &memData{seq: d.seq}
	c.bots = copyMap(d.bots)
	c.menus = copyMap(d.menus)
	c.menuButtons = copyMap(d.menuButtons)
	c.chains = copyMap(d.chains)
	c.steps = copyMap(d.steps)
	c.buttons = copyMap(d.buttons)
	c.subscribers = copyMap(d.subscribers)
	c.mailings = copyMap(d.mailings)
	c.sessions = make(map[int64]Session, len(d.sessions))
	for k, v := range d.sessions {
		v.Result = v.Result.Clone()
		c.sessions[k] = v
	}
	return c
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Memory is an in-process Store. One id sequence is shared by all entities.
type Memory struct {
	mu   *sync.Mutex
	d    *memData
	inTx bool
	now  func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{mu: &sync.Mutex{}, d: newMemData(), now: time.Now}
}

func (m *Memory) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *Memory) nextID() int64 {
	m.d.seq++
	return m.d.seq
}

// WithTx runs fn under the store lock and restores the previous state if fn fails.
func (m *Memory) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.d.clone()
	tx := &Memory{mu: m.mu, d: m.d, inTx: true, now: m.now}
	if err := fn(tx); err != nil {
		*m.d = *snapshot
		return err
	}
	return ctx.Err()
}

// Bots

func (m *Memory) CreateBot(_ context.Context, b *Bot) error {
	defer m.lock()()
	for _, other := range m.d.bots {
		if other.Token == b.Token {
			return apperr.Conflict("bot token already registered")
		}
	}
	b.ID = m.nextID()
	b.CreatedAt, b.UpdatedAt = m.now(), m.now()
	m.d.bots[b.ID] = *b
	return nil
}

func (m *Memory) GetBot(_ context.Context, id int64) (*Bot, error) {
	defer m.lock()()
	b, ok := m.d.bots[id]
	if !ok {
		return nil, apperr.NotFound("bot %d", id)
	}
	return &b, nil
}

func (m *Memory) ListBots(_ context.Context) ([]Bot, error) {
	defer m.lock()()
	out := make([]Bot, 0, len(m.d.bots))
	for _, b := range m.d.bots {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateBot(_ context.Context, b *Bot) error {
	defer m.lock()()
	if _, ok := m.d.bots[b.ID]; !ok {
		return apperr.NotFound("bot %d", b.ID)
	}
	for _, other := range m.d.bots {
		if other.ID != b.ID && other.Token == b.Token {
			return apperr.Conflict("bot token already registered")
		}
	}
	b.UpdatedAt = m.now()
	m.d.bots[b.ID] = *b
	return nil
}

func (m *Memory) DeleteBot(_ context.Context, id int64) error {
	defer m.lock()()
	if _, ok := m.d.bots[id]; !ok {
		return apperr.NotFound("bot %d", id)
	}
	for cid, c := range m.d.chains {
		if c.BotID == id {
			m.deleteChainLocked(cid)
		}
	}
	for mid, menu := range m.d.menus {
		if menu.BotID == id {
			delete(m.d.menus, mid)
		}
	}
	for bid, b := range m.d.menuButtons {
		if b.BotID == id {
			delete(m.d.menuButtons, bid)
		}
	}
	for sid, s := range m.d.sessions {
		if s.BotID == id {
			delete(m.d.sessions, sid)
		}
	}
	for sid, s := range m.d.subscribers {
		if s.BotID == id {
			delete(m.d.subscribers, sid)
		}
	}
	for mid, ml := range m.d.mailings {
		if ml.BotID == id {
			delete(m.d.mailings, mid)
		}
	}
	delete(m.d.bots, id)
	return nil
}

// Main menu

func (m *Memory) EnsureMainMenu(_ context.Context, botID int64) (*MainMenu, error) {
	defer m.lock()()
	if _, ok := m.d.bots[botID]; !ok {
		return nil, apperr.NotFound("bot %d", botID)
	}
	for _, menu := range m.d.menus {
		if menu.BotID == botID {
			return &menu, nil
		}
	}
	menu := MainMenu{ID: m.nextID(), BotID: botID, CreatedAt: m.now(), UpdatedAt: m.now()}
	m.d.menus[menu.ID] = menu
	return &menu, nil
}

func (m *Memory) UpdateMainMenu(_ context.Context, menu *MainMenu) error {
	defer m.lock()()
	if _, ok := m.d.menus[menu.ID]; !ok {
		return apperr.NotFound("main menu %d", menu.ID)
	}
	menu.UpdatedAt = m.now()
	m.d.menus[menu.ID] = *menu
	return nil
}

func (m *Memory) ListMenuButtons(_ context.Context, botID int64) ([]MenuButton, error) {
	defer m.lock()()
	var out []MenuButton
	for _, b := range m.d.menuButtons {
		if b.BotID == botID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) menuButtonTextTaken(botID, exceptID int64, text string) bool {
	for _, b := range m.d.menuButtons {
		if b.BotID == botID && b.ID != exceptID && b.ButtonText == text {
			return true
		}
	}
	return false
}

func (m *Memory) CreateMenuButton(_ context.Context, b *MenuButton) error {
	defer m.lock()()
	if _, ok := m.d.menus[b.MainMenuID]; !ok {
		return apperr.NotFound("main menu %d", b.MainMenuID)
	}
	if m.menuButtonTextTaken(b.BotID, 0, b.ButtonText) {
		return apperr.Conflict("menu button %q already exists", b.ButtonText)
	}
	b.ID = m.nextID()
	b.CreatedAt, b.UpdatedAt = m.now(), m.now()
	m.d.menuButtons[b.ID] = *b
	return nil
}

func (m *Memory) GetMenuButton(_ context.Context, id int64) (*MenuButton, error) {
	defer m.lock()()
	b, ok := m.d.menuButtons[id]
	if !ok {
		return nil, apperr.NotFound("menu button %d", id)
	}
	return &b, nil
}

func (m *Memory) FindMenuButton(_ context.Context, botID int64, text string) (*MenuButton, error) {
	defer m.lock()()
	for _, b := range m.d.menuButtons {
		if b.BotID == botID && b.ButtonText == text {
			return &b, nil
		}
	}
	return nil, apperr.NotFound("menu button %q", text)
}

func (m *Memory) UpdateMenuButton(_ context.Context, b *MenuButton) error {
	defer m.lock()()
	if _, ok := m.d.menuButtons[b.ID]; !ok {
		return apperr.NotFound("menu button %d", b.ID)
	}
	if m.menuButtonTextTaken(b.BotID, b.ID, b.ButtonText) {
		return apperr.Conflict("menu button %q already exists", b.ButtonText)
	}
	b.UpdatedAt = m.now()
	m.d.menuButtons[b.ID] = *b
	return nil
}

func (m *Memory) DeleteMenuButton(_ context.Context, id int64) error {
	defer m.lock()()
	if _, ok := m.d.menuButtons[id]; !ok {
		return apperr.NotFound("menu button %d", id)
	}
	delete(m.d.menuButtons, id)
	return nil
}

// Chains

func (m *Memory) chainNameTaken(exceptID int64, name string) bool {
	for _, c := range m.d.chains {
		if c.ID != exceptID && c.Name == name {
			return true
		}
	}
	return false
}

func (m *Memory) CreateChain(_ context.Context, c *Chain) error {
	defer m.lock()()
	if _, ok := m.d.bots[c.BotID]; !ok {
		return apperr.NotFound("bot %d", c.BotID)
	}
	if m.chainNameTaken(0, c.Name) {
		return apperr.Conflict("chain name %q already exists", c.Name)
	}
	c.ID = m.nextID()
	c.CreatedAt, c.UpdatedAt = m.now(), m.now()
	m.d.chains[c.ID] = *c
	return nil
}

func (m *Memory) GetChain(_ context.Context, id int64) (*Chain, error) {
	defer m.lock()()
	c, ok := m.d.chains[id]
	if !ok {
		return nil, apperr.NotFound("chain %d", id)
	}
	return &c, nil
}

func (m *Memory) FindChainByName(_ context.Context, name string) (*Chain, error) {
	defer m.lock()()
	for _, c := range m.d.chains {
		if c.Name == name {
			return &c, nil
		}
	}
	return nil, apperr.NotFound("chain %q", name)
}

func (m *Memory) ListChains(_ context.Context, botID int64) ([]Chain, error) {
	defer m.lock()()
	var out []Chain
	for _, c := range m.d.chains {
		if c.BotID == botID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateChain(_ context.Context, c *Chain) error {
	defer m.lock()()
	if _, ok := m.d.chains[c.ID]; !ok {
		return apperr.NotFound("chain %d", c.ID)
	}
	if m.chainNameTaken(c.ID, c.Name) {
		return apperr.Conflict("chain name %q already exists", c.Name)
	}
	if c.FirstStepID != nil {
		if _, ok := m.d.steps[*c.FirstStepID]; !ok {
			return apperr.NotFound("step %d", *c.FirstStepID)
		}
	}
	c.UpdatedAt = m.now()
	m.d.chains[c.ID] = *c
	return nil
}

func (m *Memory) DeleteChain(_ context.Context, id int64) error {
	defer m.lock()()
	if _, ok := m.d.chains[id]; !ok {
		return apperr.NotFound("chain %d", id)
	}
	m.deleteChainLocked(id)
	return nil
}

func (m *Memory) deleteChainLocked(id int64) {
	for sid, s := range m.d.steps {
		if s.ChainID == id {
			m.deleteStepLocked(sid)
		}
	}
	for bid, b := range m.d.menuButtons {
		if b.ChainID != nil && *b.ChainID == id {
			b.ChainID = nil
			m.d.menuButtons[bid] = b
		}
	}
	for sid, s := range m.d.sessions {
		if s.ChainID != nil && *s.ChainID == id {
			s.ChainID = nil
			m.d.sessions[sid] = s
		}
	}
	delete(m.d.chains, id)
}

// Steps

func (m *Memory) CreateStep(_ context.Context, s *Step) error {
	defer m.lock()()
	if _, ok := m.d.chains[s.ChainID]; !ok {
		return apperr.NotFound("chain %d", s.ChainID)
	}
	if s.NextStepID != nil {
		if _, ok := m.d.steps[*s.NextStepID]; !ok {
			return apperr.NotFound("step %d", *s.NextStepID)
		}
	}
	s.ID = m.nextID()
	s.CreatedAt, s.UpdatedAt = m.now(), m.now()
	m.d.steps[s.ID] = *s
	return nil
}

func (m *Memory) GetStep(_ context.Context, id int64) (*Step, error) {
	defer m.lock()()
	s, ok := m.d.steps[id]
	if !ok {
		return nil, apperr.NotFound("step %d", id)
	}
	return &s, nil
}

func (m *Memory) ListSteps(_ context.Context, chainID int64) ([]Step, error) {
	defer m.lock()()
	var out []Step
	for _, s := range m.d.steps {
		if s.ChainID == chainID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateStep(_ context.Context, s *Step) error {
	defer m.lock()()
	if _, ok := m.d.steps[s.ID]; !ok {
		return apperr.NotFound("step %d", s.ID)
	}
	if s.NextStepID != nil {
		if _, ok := m.d.steps[*s.NextStepID]; !ok {
			return apperr.NotFound("step %d", *s.NextStepID)
		}
	}
	s.UpdatedAt = m.now()
	m.d.steps[s.ID] = *s
	return nil
}

func (m *Memory) DeleteStep(_ context.Context, id int64) error {
	defer m.lock()()
	if _, ok := m.d.steps[id]; !ok {
		return apperr.NotFound("step %d", id)
	}
	m.deleteStepLocked(id)
	return nil
}

func (m *Memory) deleteStepLocked(id int64) {
	for bid, b := range m.d.buttons {
		switch {
		case b.StepID == id:
			delete(m.d.buttons, bid)
		case b.NextStepID != nil && *b.NextStepID == id:
			b.NextStepID = nil
			m.d.buttons[bid] = b
		}
	}
	for sid, s := range m.d.steps {
		if s.NextStepID != nil && *s.NextStepID == id {
			s.NextStepID = nil
			m.d.steps[sid] = s
		}
	}
	for cid, c := range m.d.chains {
		if c.FirstStepID != nil && *c.FirstStepID == id {
			c.FirstStepID = nil
			m.d.chains[cid] = c
		}
	}
	for sid, s := range m.d.sessions {
		if s.StepID != nil && *s.StepID == id {
			s.StepID = nil
			m.d.sessions[sid] = s
		}
	}
	delete(m.d.steps, id)
}

// Buttons

func (m *Memory) checkButton(b *Button) error {
	if _, ok := m.d.steps[b.StepID]; !ok {
		return apperr.NotFound("step %d", b.StepID)
	}
	if b.NextStepID != nil {
		if *b.NextStepID == b.StepID {
			return apperr.Invalid("button cannot point to its own step")
		}
		if _, ok := m.d.steps[*b.NextStepID]; !ok {
			return apperr.NotFound("step %d", *b.NextStepID)
		}
	}
	return nil
}

func (m *Memory) CreateButton(_ context.Context, b *Button) error {
	defer m.lock()()
	if err := m.checkButton(b); err != nil {
		return err
	}
	b.ID = m.nextID()
	b.CreatedAt, b.UpdatedAt = m.now(), m.now()
	m.d.buttons[b.ID] = *b
	return nil
}

func (m *Memory) GetButton(_ context.Context, id int64) (*Button, error) {
	defer m.lock()()
	b, ok := m.d.buttons[id]
	if !ok {
		return nil, apperr.NotFound("button %d", id)
	}
	return &b, nil
}

func (m *Memory) ListButtons(_ context.Context, stepID int64) ([]Button, error) {
	defer m.lock()()
	var out []Button
	for _, b := range m.d.buttons {
		if b.StepID == stepID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListChainButtons(_ context.Context, chainID int64) ([]Button, error) {
	defer m.lock()()
	var out []Button
	for _, b := range m.d.buttons {
		if s, ok := m.d.steps[b.StepID]; ok && s.ChainID == chainID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateButton(_ context.Context, b *Button) error {
	defer m.lock()()
	if _, ok := m.d.buttons[b.ID]; !ok {
		return apperr.NotFound("button %d", b.ID)
	}
	if err := m.checkButton(b); err != nil {
		return err
	}
	b.UpdatedAt = m.now()
	m.d.buttons[b.ID] = *b
	return nil
}

func (m *Memory) DeleteButton(_ context.Context, id int64) error {
	defer m.lock()()
	if _, ok := m.d.buttons[id]; !ok {
		return apperr.NotFound("button %d", id)
	}
	delete(m.d.buttons, id)
	return nil
}

// Sessions

func (m *Memory) CreateSession(_ context.Context, s *Session) error {
	defer m.lock()()
	if _, ok := m.d.bots[s.BotID]; !ok {
		return apperr.NotFound("bot %d", s.BotID)
	}
	s.ID = m.nextID()
	s.Version = 1
	s.CreatedAt, s.UpdatedAt = m.now(), m.now()
	stored := *s
	stored.Result = s.Result.Clone()
	m.d.sessions[s.ID] = stored
	return nil
}

func (m *Memory) GetSession(_ context.Context, id int64) (*Session, error) {
	defer m.lock()()
	s, ok := m.d.sessions[id]
	if !ok {
		return nil, apperr.NotFound("session %d", id)
	}
	s.Result = s.Result.Clone()
	return &s, nil
}

func (m *Memory) UpdateSession(_ context.Context, s *Session) error {
	defer m.lock()()
	current, ok := m.d.sessions[s.ID]
	if !ok {
		return apperr.NotFound("session %d", s.ID)
	}
	if current.Version != s.Version {
		return apperr.Conflict("session %d changed concurrently", s.ID)
	}
	s.Version++
	s.UpdatedAt = m.now()
	stored := *s
	stored.Result = s.Result.Clone()
	m.d.sessions[s.ID] = stored
	return nil
}

func (m *Memory) FindTextInputSession(_ context.Context, botID, userID int64) (*Session, error) {
	defer m.lock()()
	var found *Session
	for _, s := range m.d.sessions {
		if s.BotID != botID || s.UserID != userID || !s.ExpectsTextInput {
			continue
		}
		if found == nil || s.UpdatedAt.After(found.UpdatedAt) ||
			(s.UpdatedAt.Equal(found.UpdatedAt) && s.ID > found.ID) {
			s := s
			found = &s
		}
	}
	if found == nil {
		return nil, apperr.NotFound("text input session for user %d", userID)
	}
	found.Result = found.Result.Clone()
	return found, nil
}

func (m *Memory) ReleaseTextInput(_ context.Context, botID, userID int64) (int, error) {
	defer m.lock()()
	n := 0
	for id, s := range m.d.sessions {
		if s.BotID != botID || s.UserID != userID || !s.ExpectsTextInput {
			continue
		}
		s.ExpectsTextInput = false
		s.Version++
		s.UpdatedAt = m.now()
		m.d.sessions[id] = s
		n++
	}
	return n, nil
}

func (m *Memory) ListChainSessions(_ context.Context, chainID int64, page Page) ([]Session, int, error) {
	defer m.lock()()
	var all []Session
	for _, s := range m.d.sessions {
		if s.ChainID != nil && *s.ChainID == chainID {
			s.Result = s.Result.Clone()
			all = append(all, s)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID > all[j].ID
	})
	return paginate(all, page), len(all), nil
}

func paginate[T any](items []T, page Page) []T {
	if page.Offset >= len(items) {
		return nil
	}
	items = items[page.Offset:]
	if page.Limit > 0 && page.Limit < len(items) {
		items = items[:page.Limit]
	}
	return items
}

// Subscribers

func (m *Memory) UpsertSubscriber(_ context.Context, s *Subscriber) error {
	defer m.lock()()
	if _, ok := m.d.bots[s.BotID]; !ok {
		return apperr.NotFound("bot %d", s.BotID)
	}
	for id, existing := range m.d.subscribers {
		if existing.BotID == s.BotID && existing.UserID == s.UserID {
			s.ID, s.CreatedAt, s.UpdatedAt = id, existing.CreatedAt, m.now()
			m.d.subscribers[id] = *s
			return nil
		}
	}
	s.ID = m.nextID()
	s.CreatedAt, s.UpdatedAt = m.now(), m.now()
	m.d.subscribers[s.ID] = *s
	return nil
}

func (m *Memory) botSubscribers(botID int64) []Subscriber {
	var out []Subscriber
	for _, s := range m.d.subscribers {
		if s.BotID == botID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) ListSubscribers(_ context.Context, botID int64, page Page) ([]Subscriber, error) {
	defer m.lock()()
	return paginate(m.botSubscribers(botID), page), nil
}

func (m *Memory) CountSubscribers(_ context.Context, botID int64) (int, error) {
	defer m.lock()()
	return len(m.botSubscribers(botID)), nil
}

func (m *Memory) GetSubscribers(_ context.Context, botID int64, userIDs []int64) (map[int64]Subscriber, error) {
	defer m.lock()()
	want := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		want[id] = struct{}{}
	}
	out := make(map[int64]Subscriber, len(userIDs))
	for _, s := range m.d.subscribers {
		if _, ok := want[s.UserID]; ok && s.BotID == botID {
			out[s.UserID] = s
		}
	}
	return out, nil
}

// Mailings

func (m *Memory) CreateMailing(_ context.Context, ml *Mailing) error {
	defer m.lock()()
	if _, ok := m.d.bots[ml.BotID]; !ok {
		return apperr.NotFound("bot %d", ml.BotID)
	}
	if _, dup := m.d.mailings[ml.ID]; dup {
		return apperr.Conflict("mailing %s already exists", ml.ID)
	}
	ml.CreatedAt = m.now()
	m.d.mailings[ml.ID] = *ml
	return nil
}

func (m *Memory) GetMailing(_ context.Context, id string) (*Mailing, error) {
	defer m.lock()()
	ml, ok := m.d.mailings[id]
	if !ok {
		return nil, apperr.NotFound("mailing %s", id)
	}
	return &ml, nil
}

func (m *Memory) TransitionMailing(_ context.Context, id, to string, from ...string) (bool, error) {
	defer m.lock()()
	ml, ok := m.d.mailings[id]
	if !ok {
		return false, apperr.NotFound("mailing %s", id)
	}
	allowed := false
	for _, f := range from {
		if ml.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	ml.Status = to
	now := m.now()
	if to == MailingRunning && ml.StartedAt == nil {
		ml.StartedAt = &now
	}
	if ml.Terminal() {
		ml.FinishedAt = &now
	}
	m.d.mailings[id] = ml
	return true, nil
}

func (m *Memory) SaveMailingProgress(_ context.Context, id string, p MailingProgress) error {
	defer m.lock()()
	ml, ok := m.d.mailings[id]
	if !ok {
		return apperr.NotFound("mailing %s", id)
	}
	ml.Total, ml.Success, ml.Failed, ml.Processed = p.Total, p.Success, p.Failed, p.Processed
	m.d.mailings[id] = ml
	return nil
}

func (m *Memory) FailMailing(_ context.Context, id, reason string) error {
	defer m.lock()()
	ml, ok := m.d.mailings[id]
	if !ok {
		return apperr.NotFound("mailing %s", id)
	}
	now := m.now()
	ml.Status, ml.Error, ml.FinishedAt = MailingFailed, reason, &now
	m.d.mailings[id] = ml
	return nil
}
