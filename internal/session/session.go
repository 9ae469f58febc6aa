/**
 * @description
 * Package session holds the process-local view of who is signed in and what
 * their account looks like, and decides which screen group they belong in.
 *
 * @notes
 * - Session state is written only by Manager (its identity listener, the
 *   account watch, and the explicit Apply* calls made by onboarding).
 *   Everything else reads Snapshot copies.
 */
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/Pool-labs/Pool/internal/identity"
	"github.com/Pool-labs/Pool/internal/store"
	"github.com/rs/zerolog/log"
)

// State is a point-in-time copy of a session.
type State struct {
	Identity    *identity.Identity `json:"identity,omitempty"`
	Account     *domain.Account    `json:"account,omitempty"`
	IsLoading   bool               `json:"is_loading"`
	AuthChecked bool               `json:"auth_checked"`
}

// GuardInput derives the route-guard input for this state.
func (s State) GuardInput(current Group) GuardInput {
	in := GuardInput{
		HasIdentity: s.Identity != nil,
		HasAccount:  s.Account != nil,
		Current:     current,
	}
	if s.Account != nil {
		progress := s.Account.OnboardingProgress
		in.Progress = &progress
	}
	return in
}

// Session is one signed-in identity's in-memory state.
type Session struct {
	mu    sync.RWMutex
	state State

	stopWatch func()
}

// Snapshot returns a deep enough copy for callers to read freely.
func (s *Session) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.state
	if s.state.Identity != nil {
		ident := *s.state.Identity
		out.Identity = &ident
	}
	if s.state.Account != nil {
		acct := *s.state.Account
		acct.PoolIDs = append([]string(nil), s.state.Account.PoolIDs...)
		acct.CardIDs = append([]string(nil), s.state.Account.CardIDs...)
		out.Account = &acct
	}
	return out
}

func (s *Session) update(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

func (s *Session) setWatch(stop func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatch = stop
}

func (s *Session) close() {
	s.mu.Lock()
	stop := s.stopWatch
	s.stopWatch = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// AccountSource is the slice of the account repository the manager reads.
type AccountSource interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	WatchAccount(id string, fn func(account *domain.Account)) func()
}

// Manager keeps one Session per signed-in identity, driven by the identity
// provider's session-changed events.
type Manager struct {
	provider identity.Provider
	accounts AccountSource
	timeout  time.Duration

	mu          sync.Mutex
	sessions    map[string]*Session
	unsubscribe func()
}

func NewManager(provider identity.Provider, accounts AccountSource) *Manager {
	return &Manager{
		provider: provider,
		accounts: accounts,
		timeout:  10 * time.Second,
		sessions: make(map[string]*Session),
	}
}

// Start subscribes to the identity provider. It is safe to call once.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsubscribe != nil {
		return
	}
	m.unsubscribe = m.provider.OnSessionChanged(m.handleChange)
}

// Stop unsubscribes and drops every session.
func (m *Manager) Stop() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	for _, s := range sessions {
		s.close()
	}
}

func (m *Manager) handleChange(change identity.SessionChange) {
	if change.Identity == nil {
		m.drop(change.UID)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	m.Attach(ctx, change.Identity)
}

// Attach returns the session for ident, creating and loading it on first use.
func (m *Manager) Attach(ctx context.Context, ident *identity.Identity) *Session {
	m.mu.Lock()
	s, ok := m.sessions[ident.UID]
	if ok {
		m.mu.Unlock()
		return s
	}
	copied := *ident
	s = &Session{state: State{Identity: &copied, IsLoading: true}}
	m.sessions[ident.UID] = s
	m.mu.Unlock()

	m.load(ctx, s, ident)
	return s
}

// load watches the account before reading it, so a write that lands while
// the read is in flight still reaches the session. A watched state always
// wins over the loaded one.
func (m *Manager) load(ctx context.Context, s *Session, ident *identity.Identity) {
	watched := false
	s.setWatch(m.accounts.WatchAccount(ident.UID, func(acct *domain.Account) {
		s.update(func(st *State) {
			st.Account = acct
			watched = true
		})
	}))

	account, err := m.accounts.GetAccount(ctx, ident.UID)
	if err != nil && !errors.Is(err, store.ErrAccountNotFound) {
		log.Error().Err(err).Str("uid", ident.UID).Msg("failed to load account for session")
	}

	s.update(func(st *State) {
		if account != nil && !watched {
			st.Account = account
		}
		st.IsLoading = false
		st.AuthChecked = true
	})
}

func (m *Manager) drop(uid string) {
	m.mu.Lock()
	s, ok := m.sessions[uid]
	delete(m.sessions, uid)
	m.mu.Unlock()

	if ok {
		s.close()
	}
}

// Get returns the session for uid, or nil when none is attached.
func (m *Manager) Get(uid string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[uid]
}

// Route evaluates the route guard for uid. An unknown uid is treated as
// signed out.
func (m *Manager) Route(uid string, current Group) Decision {
	s := m.Get(uid)
	if s == nil {
		return Decide(State{}.GuardInput(current))
	}
	return Decide(s.Snapshot().GuardInput(current))
}

// ApplyProfile records the onboarding step-one answers on the session only.
// Nothing is written to the store until funding is linked.
func (m *Manager) ApplyProfile(uid, firstName, lastName string) error {
	s := m.Get(uid)
	if s == nil {
		return ErrNoSession
	}
	s.update(func(st *State) {
		if st.Account == nil {
			st.Account = &domain.Account{ID: uid, PoolIDs: []string{}, CardIDs: []string{}}
			if st.Identity != nil {
				st.Account.Email = st.Identity.Email
			}
		}
		st.Account.FirstName = firstName
		st.Account.LastName = lastName
		if st.Account.OnboardingProgress < domain.ProgressProfileCollected {
			st.Account.OnboardingProgress = domain.ProgressProfileCollected
		}
	})
	return nil
}

// ApplyAccount replaces the session's account with a freshly persisted one.
func (m *Manager) ApplyAccount(uid string, account *domain.Account) {
	s := m.Get(uid)
	if s == nil || account == nil {
		return
	}
	copied := *account
	s.update(func(st *State) {
		st.Account = &copied
	})
}

// ErrNoSession is returned when an operation needs a session that is not attached.
var ErrNoSession = errors.New("no active session")
