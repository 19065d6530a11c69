// Package hud holds the live status of the two running wallet pipelines and
// renders it as a one- or two-column terminal dashboard.
package hud

import (
	"fmt"
	"sync"
)

// NumSlots is the number of concurrently displayed pipelines.
const NumSlots = 2

// PhaseKind enumerates pipeline phases.
type PhaseKind int

const (
	PhaseIdle PhaseKind = iota
	PhaseStarting
	PhaseDepositing
	PhaseReady
	PhaseDeploying
	PhaseAirdropping
	PhaseDone
	PhaseFailed
)

// String returns the kind name.
func (k PhaseKind) String() string {
	switch k {
	case PhaseIdle:
		return "idle"
	case PhaseStarting:
		return "starting"
	case PhaseDepositing:
		return "depositing"
	case PhaseReady:
		return "ready"
	case PhaseDeploying:
		return "deploying"
	case PhaseAirdropping:
		return "airdropping"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(k))
	}
}

// Phase is a slot's current status: a kind plus its display payload.
type Phase struct {
	Kind   PhaseKind
	Detail string
}

// Idle is the phase of a slot no pipeline has used yet.
func Idle() Phase { return Phase{Kind: PhaseIdle} }

// Starting is the phase right after a pipeline takes a slot.
func Starting() Phase { return Phase{Kind: PhaseStarting} }

// Depositing is the deposit phase; amount is in ETH.
func Depositing(amount string) Phase { return Phase{Kind: PhaseDepositing, Detail: amount} }

// Ready follows the deposit step, or replaces it when deposits are skipped.
func Ready(deposited bool) Phase {
	if deposited {
		return Phase{Kind: PhaseReady}
	}
	return Phase{Kind: PhaseReady, Detail: "no deposit"}
}

// Deploying is the token deployment phase for symbol.
func Deploying(symbol string) Phase { return Phase{Kind: PhaseDeploying, Detail: symbol} }

// Airdropping is the distribution phase of count transfers of per tokens.
func Airdropping(per string, count int) Phase {
	return Phase{Kind: PhaseAirdropping, Detail: fmt.Sprintf("%s x %d", per, count)}
}

// Done is the terminal success phase.
func Done() Phase { return Phase{Kind: PhaseDone} }

// Failed is the terminal failure phase.
func Failed(msg string) Phase { return Phase{Kind: PhaseFailed, Detail: msg} }

// String renders the phase as shown in the dashboard.
func (p Phase) String() string {
	switch p.Kind {
	case PhaseIdle:
		return "Idle"
	case PhaseStarting:
		return "Starting"
	case PhaseDepositing:
		return "Deposit " + p.Detail + " L1->L2"
	case PhaseReady:
		if p.Detail != "" {
			return "Ready (" + p.Detail + ")"
		}
		return "Ready"
	case PhaseDeploying:
		return "Deploy " + p.Detail
	case PhaseAirdropping:
		return "Airdrop " + p.Detail
	case PhaseDone:
		return "DONE"
	case PhaseFailed:
		return "ERR: " + p.Detail
	default:
		return p.Kind.String()
	}
}

// Terminal reports whether the phase ends a pipeline run.
func (p Phase) Terminal() bool {
	return p.Kind == PhaseDone || p.Kind == PhaseFailed
}

// Slot is the displayed status of one pipeline.
type Slot struct {
	Title       string
	Address     string
	Position    string
	Phase       Phase
	L1Ref       string
	L2Ref       string
	TokensDone  int
	TokensTotal int
	DeployBadge string
	DropsDone   int
	DropsTotal  int
	DropBadge   string
	Errors      int
}

// Header is the round and batch line above the slots.
type Header struct {
	Round string
	Batch string
}

// Snapshot is a consistent copy of the store.
type Snapshot struct {
	Header Header
	Slots  [NumSlots]Slot
}

// StoreConfig seeds the initial slot contents.
type StoreConfig struct {
	Titles      [NumSlots]string
	TokensTotal int
	DropsTotal  int
}

// Store holds the two slots and the header. Every mutation is a merge into
// the existing record under a single lock, so one Update call is atomic with
// respect to rendering and to the other pipeline.
type Store struct {
	mu     sync.Mutex
	slots  [NumSlots]Slot
	header Header
}

// NewStore creates a store with both slots idle.
func NewStore(cfg StoreConfig) *Store {
	s := &Store{header: Header{Round: "-", Batch: "-"}}
	for i := range s.slots {
		title := cfg.Titles[i]
		if title == "" {
			title = fmt.Sprintf("Wallet %d", i+1)
		}
		s.slots[i] = Slot{
			Title:       title,
			Address:     "-",
			Phase:       Idle(),
			L1Ref:       "--",
			L2Ref:       "--",
			TokensTotal: cfg.TokensTotal,
			DropsTotal:  cfg.DropsTotal,
		}
	}
	return s
}

// Update applies fn to slot i. Fields fn leaves alone keep their value.
// Out-of-range indexes are ignored.
func (s *Store) Update(i int, fn func(*Slot)) {
	if i < 0 || i >= NumSlots {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.slots[i])
}

// SetDeployBadge replaces the deploy sub-status of slot i.
func (s *Store) SetDeployBadge(i int, text string) {
	s.Update(i, func(sl *Slot) { sl.DeployBadge = text })
}

// SetDropBadge replaces the airdrop sub-status of slot i.
func (s *Store) SetDropBadge(i int, text string) {
	s.Update(i, func(sl *Slot) { sl.DropBadge = text })
}

// SetHeader replaces the round and batch labels.
func (s *Store) SetHeader(round, batch string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header = Header{Round: round, Batch: batch}
}

// Slot returns a copy of slot i.
func (s *Store) Slot(i int) Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[i]
}

// Snapshot returns a copy of the whole store.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Header: s.header, Slots: s.slots}
}
