package account

import (
	"sort"
	"sync"

	"github.com/uhyunpark/agentvenue/pkg/app/core"
)

// Manager holds the accounts of every agent trading one symbol.
type Manager struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

func NewManager() *Manager {
	return &Manager{accounts: make(map[string]*Account)}
}

// Get returns a copy of the agent's account, or false if it has never traded.
func (m *Manager) Get(agentID string) (Account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[agentID]
	if !ok {
		return Account{}, false
	}
	return *acc, true
}

// GetOrCreate returns a copy of the agent's account, creating it on first use.
func (m *Manager) GetOrCreate(agentID string) Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.getLocked(agentID)
}

func (m *Manager) getLocked(agentID string) *Account {
	acc, ok := m.accounts[agentID]
	if !ok {
		acc = NewAccount(agentID)
		m.accounts[agentID] = acc
	}
	return acc
}

// ApplyTrade books both legs: the taker on its side, the maker opposite.
// It returns the updated copies of taker and maker.
func (m *Manager) ApplyTrade(t core.Trade) (taker, maker Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tk := m.getLocked(t.TakerID)
	tk.ApplyFill(t.TakerSide, t.Price, t.Qty)
	mk := m.getLocked(t.MakerID)
	mk.ApplyFill(t.TakerSide.Opposite(), t.Price, t.Qty)
	return *tk, *mk
}

// Snapshot returns copies of all accounts sorted by agent id.
func (m *Manager) Snapshot() []Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Account, 0, len(m.accounts))
	for _, acc := range m.accounts {
		out = append(out, *acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}
