package services

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/theworld-inc/theworld-engine/pkg/apperrors"
	"github.com/theworld-inc/theworld-engine/pkg/models"
	"github.com/theworld-inc/theworld-engine/pkg/repositories"
)

// ContextService is the scope-validated facade over the session context
// store. Writes append a new version per (session, scope, key); reads return
// every version, newest first per the repository ordering.
type ContextService interface {
	Write(ctx context.Context, sessionID string, scope models.ContextScope, key string, value map[string]any) (*models.ReasoningContext, error)
	Read(ctx context.Context, sessionID string, scopes []models.ContextScope) ([]models.ReasoningContext, error)

	// Latest returns the newest value for one key, or nil when absent.
	Latest(ctx context.Context, sessionID string, scope models.ContextScope, key string) (map[string]any, error)

	// LoadTraversalState and SaveTraversalState marshal the typed traversal
	// budget in and out of the session scope.
	LoadTraversalState(ctx context.Context, sessionID string) (*models.TraversalState, error)
	SaveTraversalState(ctx context.Context, sessionID string, state *models.TraversalState) error

	LoadPlanState(ctx context.Context, sessionID string) (*models.PlanState, error)
	SavePlanState(ctx context.Context, sessionID string, state *models.PlanState) error
}

type contextService struct {
	repo   repositories.ReasoningRepository
	logger *zap.Logger
}

// NewContextService creates a ContextService backed by the reasoning store.
func NewContextService(repo repositories.ReasoningRepository, logger *zap.Logger) ContextService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &contextService{repo: repo, logger: logger.Named("context")}
}

var _ ContextService = (*contextService)(nil)

func (s *contextService) Write(ctx context.Context, sessionID string, scope models.ContextScope, key string, value map[string]any) (*models.ReasoningContext, error) {
	if !models.IsValidContextScope(scope) {
		return nil, apperrors.Validation("invalid context scope")
	}
	return s.repo.SetContext(ctx, sessionID, scope, key, value)
}

func (s *contextService) Read(ctx context.Context, sessionID string, scopes []models.ContextScope) ([]models.ReasoningContext, error) {
	if len(scopes) == 0 {
		scopes = []models.ContextScope{models.ContextScopeSession, models.ContextScopeArtifact}
	}
	for _, scope := range scopes {
		if !models.IsValidContextScope(scope) {
			return nil, apperrors.Validation("invalid context scope")
		}
	}
	return s.repo.ListContext(ctx, sessionID, scopes)
}

func (s *contextService) Latest(ctx context.Context, sessionID string, scope models.ContextScope, key string) (map[string]any, error) {
	items, err := s.repo.ListContext(ctx, sessionID, []models.ContextScope{scope})
	if err != nil {
		return nil, err
	}

	var latest *models.ReasoningContext
	for i := range items {
		item := &items[i]
		if item.Key != key {
			continue
		}
		if latest == nil || item.Version > latest.Version {
			latest = item
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.Value, nil
}

func (s *contextService) LoadTraversalState(ctx context.Context, sessionID string) (*models.TraversalState, error) {
	value, err := s.Latest(ctx, sessionID, models.ContextScopeSession, models.ContextKeyTraversalState)
	if err != nil {
		return nil, err
	}
	state := models.NewTraversalState()
	if value == nil {
		return &state, nil
	}
	if err := remarshal(value, &state); err != nil {
		s.logger.Warn("traversal state unreadable, resetting", zap.String("session_id", sessionID), zap.Error(err))
		reset := models.NewTraversalState()
		return &reset, nil
	}
	return &state, nil
}

func (s *contextService) SaveTraversalState(ctx context.Context, sessionID string, state *models.TraversalState) error {
	value, err := toMap(state)
	if err != nil {
		return err
	}
	_, err = s.Write(ctx, sessionID, models.ContextScopeSession, models.ContextKeyTraversalState, value)
	return err
}

func (s *contextService) LoadPlanState(ctx context.Context, sessionID string) (*models.PlanState, error) {
	value, err := s.Latest(ctx, sessionID, models.ContextScopeSession, models.ContextKeyPlanState)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return &models.PlanState{}, nil
	}

	state := &models.PlanState{}
	if err := remarshal(value, state); err != nil {
		s.logger.Warn("plan state unreadable, resetting", zap.String("session_id", sessionID), zap.Error(err))
		return &models.PlanState{}, nil
	}
	return state, nil
}

func (s *contextService) SavePlanState(ctx context.Context, sessionID string, state *models.PlanState) error {
	value, err := toMap(state)
	if err != nil {
		return err
	}
	_, err = s.Write(ctx, sessionID, models.ContextScopeSession, models.ContextKeyPlanState, value)
	return err
}

// remarshal converts a generic JSON map into a typed struct.
func remarshal(value map[string]any, out any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// toMap converts a typed struct into a generic JSON map for storage.
func toMap(in any) (map[string]any, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, apperrors.Internalf("encode context value: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperrors.Internalf("decode context value: %v", err)
	}
	return out, nil
}
