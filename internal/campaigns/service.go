package campaigns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"outdial-platform/internal/contacts"
	"outdial-platform/internal/notify"

	"github.com/google/uuid"
)

// Service implements the operator control surface: create, start, pause,
// resume and stop. Status changes are guarded compare-and-swap writes, so
// two operators racing on the same campaign cannot double-apply an action.
//
// Pause only gates new dispatches; calls already placed with the provider
// run to completion. Stop additionally marks the remaining pending contacts
// as permanently skipped.

type Service struct {
	repo     Repository
	contacts contacts.Repository
	notifier notify.Notifier
	clock    func() time.Time
}

func NewService(repo Repository, contactRepo contacts.Repository, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		repo:     repo,
		contacts: contactRepo,
		notifier: notifier,
		clock:    time.Now,
	}
}

var (
	ErrInvalidArgument = errors.New("campaigns: invalid argument")
	ErrWrongWorkspace  = errors.New("campaigns: campaign belongs to another workspace")
)

// Update is the campaign_update notification payload.
type Update struct {
	CampaignID string `json:"campaign_id"`
	Status     Status `json:"status"`
	Stats      Stats  `json:"stats"`
}

type CreateRequest struct {
	WorkspaceID string   `json:"workspace_id"`
	Name        string   `json:"name"`
	Settings    Settings `json:"settings"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (Campaign, error) {
	if req.WorkspaceID == "" || req.Name == "" {
		return Campaign{}, ErrInvalidArgument
	}
	now := s.clock().UTC()
	c := Campaign{
		ID:          uuid.NewString(),
		WorkspaceID: req.WorkspaceID,
		Name:        req.Name,
		Status:      StatusDraft,
		Settings:    req.Settings.WithDefaults(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return Campaign{}, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, workspaceID, id string) (Campaign, error) {
	c, err := s.load(ctx, workspaceID, id)
	if err != nil {
		return Campaign{}, err
	}
	return c, nil
}

// Start moves a draft campaign to active.
func (s *Service) Start(ctx context.Context, workspaceID, id string) (Campaign, error) {
	return s.transition(ctx, workspaceID, id, StatusDraft, StatusActive)
}

// Pause stops new dispatches; the scheduler observes the status on its next
// tick.
func (s *Service) Pause(ctx context.Context, workspaceID, id string) (Campaign, error) {
	return s.transition(ctx, workspaceID, id, StatusActive, StatusPaused)
}

// Resume re-enables dispatching for a paused campaign.
func (s *Service) Resume(ctx context.Context, workspaceID, id string) (Campaign, error) {
	return s.transition(ctx, workspaceID, id, StatusPaused, StatusActive)
}

// Stop cancels the campaign from either active or paused and permanently
// skips the contacts that were still waiting. In-flight calls are not
// aborted; their terminal webhooks still update stats.
func (s *Service) Stop(ctx context.Context, workspaceID, id string) (Campaign, error) {
	c, err := s.load(ctx, workspaceID, id)
	if err != nil {
		return Campaign{}, err
	}

	now := s.clock().UTC()
	ok, err := s.repo.SetStatus(ctx, id, StatusActive, StatusCancelled, now)
	if err != nil {
		return Campaign{}, err
	}
	if !ok {
		ok, err = s.repo.SetStatus(ctx, id, StatusPaused, StatusCancelled, now)
		if err != nil {
			return Campaign{}, err
		}
	}
	if !ok {
		return Campaign{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, StatusCancelled)
	}

	if s.contacts != nil {
		if _, err := s.contacts.MarkRemainingSkipped(ctx, id, now); err != nil {
			return Campaign{}, err
		}
	}
	return s.finish(ctx, workspaceID, id)
}

func (s *Service) transition(ctx context.Context, workspaceID, id string, from, to Status) (Campaign, error) {
	c, err := s.load(ctx, workspaceID, id)
	if err != nil {
		return Campaign{}, err
	}
	ok, err := s.repo.SetStatus(ctx, id, from, to, s.clock().UTC())
	if err != nil {
		return Campaign{}, err
	}
	if !ok {
		return Campaign{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	return s.finish(ctx, workspaceID, id)
}

func (s *Service) load(ctx context.Context, workspaceID, id string) (Campaign, error) {
	if workspaceID == "" || id == "" {
		return Campaign{}, ErrInvalidArgument
	}
	c, ok, err := s.repo.Get(ctx, id)
	if err != nil {
		return Campaign{}, err
	}
	if !ok {
		return Campaign{}, ErrNotFound
	}
	if c.WorkspaceID != workspaceID {
		return Campaign{}, ErrWrongWorkspace
	}
	return c, nil
}

func (s *Service) finish(ctx context.Context, workspaceID, id string) (Campaign, error) {
	c, err := s.load(ctx, workspaceID, id)
	if err != nil {
		return Campaign{}, err
	}
	_ = s.notifier.Emit(ctx, notify.TopicCampaignUpdate, Update{
		CampaignID: c.ID,
		Status:     c.Status,
		Stats:      c.Stats,
	})
	return c, nil
}
