package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/utils"
)

// MaxRegistrySize defines the maximum number of runtime cards held at once
const MaxRegistrySize = 1000

// CardDefinition is a runtime card awaiting injection into sessions
type CardDefinition struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	Hash         string    `json:"hash"`
	RegisteredAt time.Time `json:"registeredAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	seq          uint64
}

// ChangeKind describes a registry mutation
type ChangeKind string

const (
	ChangeRegistered   ChangeKind = "registered"
	ChangeUnregistered ChangeKind = "unregistered"
)

// ChangeEvent is delivered to listeners after each mutation
type ChangeEvent struct {
	Kind   ChangeKind
	CardID string
}

// Listener observes registry changes
type Listener func(ChangeEvent)

// Manager is the process-wide catalog of runtime card definitions.
// It is independent of any session.
type Manager struct {
	mu        sync.RWMutex
	cards     map[string]*CardDefinition // Protected by mu
	listeners map[uint64]Listener        // Protected by mu
	nextSeq   uint64                     // Protected by mu
	nextLis   uint64                     // Protected by mu
	hasher    *utils.Hasher
	metrics   *monitoring.Metrics
	now       func() time.Time
}

// NewManager creates an empty card registry
func NewManager() *Manager {
	return &Manager{
		cards:     make(map[string]*CardDefinition),
		listeners: make(map[uint64]Listener),
		hasher:    utils.DefaultHasher(),
		now:       time.Now,
	}
}

// WithMetrics adds metrics tracking to the registry
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Register adds or replaces a card definition. Re-registering identical code
// is a no-op and does not notify listeners.
func (m *Manager) Register(cardID, code string) error {
	if err := utils.ValidateID(cardID, "card id", true); err != nil {
		return err
	}
	if err := utils.ValidateSource(code, "card code", utils.MaxCardCodeSize); err != nil {
		return err
	}
	hash := m.hasher.HashString(code)

	m.mu.Lock()
	now := m.now()
	existing, ok := m.cards[cardID]
	switch {
	case ok && existing.Hash == hash:
		m.mu.Unlock()
		return nil
	case ok:
		existing.Code = code
		existing.Hash = hash
		existing.UpdatedAt = now
	default:
		if len(m.cards) >= MaxRegistrySize {
			m.mu.Unlock()
			return fmt.Errorf("card registry full (%d cards)", MaxRegistrySize)
		}
		m.nextSeq++
		m.cards[cardID] = &CardDefinition{
			ID:           cardID,
			Code:         code,
			Hash:         hash,
			RegisteredAt: now,
			UpdatedAt:    now,
			seq:          m.nextSeq,
		}
	}
	count := len(m.cards)
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	m.recordSize(count)
	notify(listeners, ChangeEvent{Kind: ChangeRegistered, CardID: cardID})
	return nil
}

// Unregister removes a card definition. It reports whether the card existed.
func (m *Manager) Unregister(cardID string) bool {
	m.mu.Lock()
	if _, ok := m.cards[cardID]; !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.cards, cardID)
	count := len(m.cards)
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	m.recordSize(count)
	notify(listeners, ChangeEvent{Kind: ChangeUnregistered, CardID: cardID})
	return true
}

// Has reports whether cardID is registered
func (m *Manager) Has(cardID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.cards[cardID]
	return ok
}

// Get returns a copy of one card definition
func (m *Manager) Get(cardID string) (CardDefinition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.cards[cardID]
	if !ok {
		return CardDefinition{}, false
	}
	return *def, true
}

// ListPending returns every registered card in first-registration order
func (m *Manager) ListPending() []CardDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	defs := make([]CardDefinition, 0, len(m.cards))
	for _, def := range m.cards {
		defs = append(defs, *def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].seq < defs[j].seq })
	return defs
}

// Len returns the number of registered cards
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cards)
}

// OnChange subscribes listener to registry mutations and returns a function
// that unsubscribes it. Listeners run synchronously after the mutation,
// outside the registry lock.
func (m *Manager) OnChange(listener Listener) func() {
	m.mu.Lock()
	m.nextLis++
	key := m.nextLis
	m.listeners[key] = listener
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, key)
			m.mu.Unlock()
		})
	}
}

// snapshotListeners must be called with mu held
func (m *Manager) snapshotListeners() []Listener {
	keys := make([]uint64, 0, len(m.listeners))
	for k := range m.listeners {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]Listener, len(keys))
	for i, k := range keys {
		out[i] = m.listeners[k]
	}
	return out
}

func (m *Manager) recordSize(count int) {
	if m.metrics != nil {
		m.metrics.SetRegistryCards(count)
	}
}

func notify(listeners []Listener, ev ChangeEvent) {
	for _, l := range listeners {
		l(ev)
	}
}
