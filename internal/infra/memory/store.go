package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"twitch-trivia-service/internal/domain"

	"github.com/google/uuid"
)

// Store is an in-memory implementation of app.GameStore plus content
// loading. It backs redis-less/postgres-less runs and the unit tests.
type Store struct {
	mu        sync.Mutex
	quizzes   map[string]domain.QuizContent
	users     map[string]domain.User // by external key
	usersByID map[string]domain.User
	instances map[string]*instance
	responses []domain.Response
}

type instance struct {
	quizID    string
	startedAt time.Time
	endedAt   time.Time
}

func NewStore(quizzes map[string]domain.QuizContent) *Store {
	if quizzes == nil {
		quizzes = make(map[string]domain.QuizContent)
	}
	return &Store{
		quizzes:   quizzes,
		users:     make(map[string]domain.User),
		usersByID: make(map[string]domain.User),
		instances: make(map[string]*instance),
	}
}

func (s *Store) QuizContent(_ context.Context, quizID string) (domain.QuizContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.QuizContent{}, domain.ErrQuizNotFound
	}
	return quiz, nil
}

func (s *Store) CreateInstance(_ context.Context, quizID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.instances[id] = &instance{quizID: quizID, startedAt: time.Now()}
	return id, nil
}

func (s *Store) FinishInstance(_ context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return fmt.Errorf("instance %s not found", instanceID)
	}
	if inst.endedAt.IsZero() {
		inst.endedAt = time.Now()
	}
	return nil
}

func (s *Store) FindOrCreateUser(_ context.Context, externalKey, displayName string, anonymous bool) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[externalKey]; ok {
		user.DisplayName = displayName
		s.users[externalKey] = user
		s.usersByID[user.ID] = user
		return user, nil
	}
	user := domain.User{
		ID:          uuid.NewString(),
		ExternalKey: externalKey,
		DisplayName: displayName,
		Anonymous:   anonymous,
	}
	s.users[externalKey] = user
	s.usersByID[user.ID] = user
	return user, nil
}

func (s *Store) MergeUsers(_ context.Context, fromUserID, toUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	from, ok := s.usersByID[fromUserID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if _, ok := s.usersByID[toUserID]; !ok {
		return domain.ErrUserNotFound
	}
	for i := range s.responses {
		if s.responses[i].UserID == fromUserID {
			s.responses[i].UserID = toUserID
		}
	}
	delete(s.usersByID, fromUserID)
	delete(s.users, from.ExternalKey)
	return nil
}

func (s *Store) SaveResponses(_ context.Context, responses []domain.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, responses...)
	return nil
}

// Responses returns a snapshot of every persisted response row.
func (s *Store) Responses() []domain.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Response, len(s.responses))
	copy(out, s.responses)
	return out
}

// UserByKey exposes a stored identity, for tests.
func (s *Store) UserByKey(externalKey string) (domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[externalKey]
	return user, ok
}

// InstanceFinished reports whether an instance has its end time set.
func (s *Store) InstanceFinished(instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instanceID]
	return ok && !inst.endedAt.IsZero()
}
