package paymentstest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hackportal/backend/internal/models"
)

// Teams is an in-memory team store usable as payments.TeamReader and teams.Store.
type Teams struct {
	mu    sync.Mutex
	teams map[uuid.UUID]*models.Team
	// Writes counts team rows changed by the projector.
	Writes int
	// Err, when set, fails projector writes (not reads).
	Err error
}

// NewTeams creates an empty team store.
func NewTeams() *Teams {
	return &Teams{teams: make(map[uuid.UUID]*models.Team)}
}

// Add registers a team, defaulting to status submitted and payment pending.
func (t *Teams) Add(team models.Team) *models.Team {
	t.mu.Lock()
	defer t.mu.Unlock()
	if team.ID == uuid.Nil {
		team.ID = uuid.New()
	}
	if team.Status == "" {
		team.Status = models.TeamStatusSubmitted
	}
	if team.PaymentStatus == "" {
		team.PaymentStatus = models.TeamPaymentPending
	}
	cp := team
	t.teams[team.ID] = &cp
	return &team
}

// Team returns a copy of the team, or nil.
func (t *Teams) Team(id uuid.UUID) *models.Team {
	t.mu.Lock()
	defer t.mu.Unlock()
	if team := t.teams[id]; team != nil {
		cp := *team
		return &cp
	}
	return nil
}

func (t *Teams) GetByID(_ context.Context, id uuid.UUID) (*models.Team, error) {
	return t.Team(id), nil
}

func (t *Teams) MarkPaid(_ context.Context, id uuid.UUID) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return false, t.Err
	}
	team := t.teams[id]
	if team == nil || team.PaymentStatus == models.TeamPaymentPaid {
		return false, nil
	}
	team.PaymentStatus = models.TeamPaymentPaid
	team.Status = models.TeamStatusApproved
	t.Writes++
	return true, nil
}

func (t *Teams) MarkFailed(_ context.Context, id uuid.UUID) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return false, t.Err
	}
	team := t.teams[id]
	if team == nil || team.PaymentStatus == models.TeamPaymentPaid || team.PaymentStatus == models.TeamPaymentFailed {
		return false, nil
	}
	team.PaymentStatus = models.TeamPaymentFailed
	team.Status = models.TeamStatusPending
	t.Writes++
	return true, nil
}

// Notifier counts notifications per payment.
type Notifier struct {
	mu    sync.Mutex
	Calls map[uuid.UUID]int
	Err   error
}

// NewNotifier creates a counting notifier.
func NewNotifier() *Notifier {
	return &Notifier{Calls: make(map[uuid.UUID]int)}
}

func (n *Notifier) Notify(_ context.Context, p *models.Payment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.Calls[p.ID]++
	return nil
}

// Total returns the number of notifications sent.
func (n *Notifier) Total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, c := range n.Calls {
		total += c
	}
	return total
}
