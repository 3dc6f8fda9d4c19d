package application

import "sync"

// OrbState is the shared visual/feeling state the orb.* commands
// mutate. The router publishes orb.state_changed after every update.
type OrbState struct {
	mu       sync.Mutex
	Palette  string
	Feeling  string
	Urgency  string
}

func (o *OrbState) snapshot() map[string]interface{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return map[string]interface{}{
		"palette": o.Palette,
		"feeling": o.Feeling,
		"urgency": o.Urgency,
	}
}

func (o *OrbState) setPalette(v string) { o.mu.Lock(); o.Palette = v; o.mu.Unlock() }
func (o *OrbState) clearPalette()       { o.mu.Lock(); o.Palette = ""; o.mu.Unlock() }
func (o *OrbState) setFeeling(v string) { o.mu.Lock(); o.Feeling = v; o.mu.Unlock() }
func (o *OrbState) setUrgency(v string) { o.mu.Lock(); o.Urgency = v; o.mu.Unlock() }

// OnboardingPhase is one step of the fixed onboarding sequence.
type OnboardingPhase string

const (
	PhaseWelcome     OnboardingPhase = "welcome"
	PhasePermissions OnboardingPhase = "permissions"
	PhaseReady       OnboardingPhase = "ready"
	PhaseComplete    OnboardingPhase = "complete"
)

var onboardingSequence = []OnboardingPhase{PhaseWelcome, PhasePermissions, PhaseReady, PhaseComplete}

// OnboardingState tracks first-run progress through the fixed phase
// sequence welcome -> permissions -> ready -> complete.
type OnboardingState struct {
	mu        sync.Mutex
	onboarded bool
	phase     OnboardingPhase
}

// NewOnboardingState starts a fresh state at the welcome phase.
func NewOnboardingState() *OnboardingState {
	return &OnboardingState{phase: PhaseWelcome}
}

func (s *OnboardingState) get() (bool, OnboardingPhase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onboarded, s.phase
}

// advance moves to the next phase in sequence, idempotent once at
// complete, and returns the resulting phase.
func (s *OnboardingState) advance() OnboardingPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range onboardingSequence {
		if p == s.phase && i+1 < len(onboardingSequence) {
			s.phase = onboardingSequence[i+1]
			break
		}
	}
	if s.phase == PhaseComplete {
		s.onboarded = true
	}
	return s.phase
}

func (s *OnboardingState) complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseComplete
	s.onboarded = true
}

// ApprovalStore holds pending tool-approval oneshots keyed by request
// id, resolved by approval.respond.
type ApprovalStore struct {
	mu      sync.Mutex
	pending map[string]chan bool
}

// NewApprovalStore creates an empty store.
func NewApprovalStore() *ApprovalStore {
	return &ApprovalStore{pending: make(map[string]chan bool)}
}

// Await registers a new pending approval and returns the channel its
// resolution is delivered on.
func (s *ApprovalStore) Await(requestID string) <-chan bool {
	ch := make(chan bool, 1)
	s.mu.Lock()
	s.pending[requestID] = ch
	s.mu.Unlock()
	return ch
}

// Resolve delivers approved to the pending request, returning false if
// no such request is outstanding.
func (s *ApprovalStore) Resolve(requestID string, approved bool) bool {
	s.mu.Lock()
	ch, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch <- approved
	close(ch)
	return true
}

// SkillChannel is an installed side-channel integration (e.g. a
// messaging platform bridge) the host can list and install.
type SkillChannel struct {
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
}

// SkillChannelStore tracks the set of known skill channels.
type SkillChannelStore struct {
	mu       sync.Mutex
	channels map[string]*SkillChannel
}

// NewSkillChannelStore creates an empty store.
func NewSkillChannelStore() *SkillChannelStore {
	return &SkillChannelStore{channels: make(map[string]*SkillChannel)}
}

func (s *SkillChannelStore) install(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[name]
	if !ok {
		ch = &SkillChannel{Name: name}
		s.channels[name] = ch
	}
	ch.Installed = true
}

func (s *SkillChannelStore) list() []SkillChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SkillChannel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, *ch)
	}
	return out
}
