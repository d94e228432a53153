package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/UkralStul/discussion-board-service/internal/domain"
	"github.com/UkralStul/discussion-board-service/internal/storage"

	"github.com/google/uuid"
)

// voteKey - составной ключ реестра голосов: не более одного голоса
// на пару (пользователь, ответ).
type voteKey struct {
	userID     string
	responseID string
}

// Store реализует интерфейс Storage в памяти.
// Мьютекс сериализует все мутации, поэтому проверки размещения и
// переходы голосования выполняются в той же критической секции,
// что и сама запись - аналог транзакции в postgres-хранилище.
type Store struct {
	mu                sync.RWMutex
	users             map[string]*domain.User
	usersByEmail      map[string]string // map[email]userID
	discussions       map[string]*domain.Discussion
	responses         map[string]*domain.Response
	rootsByDiscussion map[string][]string // map[discussionID][]responseID (только корневые)
	repliesByParent   map[string][]string // map[parentID][]responseID
	votes             map[voteKey]*domain.Vote
	sources           map[string]*domain.ReliableSource // map[domain]
}

// New создает новый экземпляр in-memory хранилища.
func New() *Store {
	return &Store{
		users:             make(map[string]*domain.User),
		usersByEmail:      make(map[string]string),
		discussions:       make(map[string]*domain.Discussion),
		responses:         make(map[string]*domain.Response),
		rootsByDiscussion: make(map[string][]string),
		repliesByParent:   make(map[string][]string),
		votes:             make(map[voteKey]*domain.Vote),
		sources:           make(map[string]*domain.ReliableSource),
	}
}

// === User Methods ===

func (s *Store) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, ok := s.usersByEmail[email]; ok {
		return nil, storage.ErrEmailTaken
	}

	user.ID = uuid.NewString()
	user.Email = email
	if user.Role == "" {
		user.Role = domain.RoleRegular
	}
	user.CreatedAt = time.Now().UTC()
	s.users[user.ID] = user
	s.usersByEmail[email] = user.ID
	return user, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[strings.ToLower(email)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) GetUsers(ctx context.Context, args storage.PaginationArgs) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*domain.User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return paginate(all, args), nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, name, passwordHash *string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if name != nil {
		user.Name = *name
	}
	if passwordHash != nil {
		user.PasswordHash = *passwordHash
	}
	return user, nil
}

func (s *Store) UpdateUserRole(ctx context.Context, id string, role domain.Role) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	user.Role = role
	return user, nil
}

// === Discussion Methods ===

func (s *Store) CreateDiscussion(ctx context.Context, discussion *domain.Discussion) (*domain.Discussion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	discussion.ID = uuid.NewString()
	discussion.Status = domain.DiscussionActive
	discussion.CreatedAt = time.Now().UTC()
	s.discussions[discussion.ID] = discussion
	return discussion, nil
}

func (s *Store) GetDiscussionByID(ctx context.Context, id string) (*domain.Discussion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	discussion, ok := s.discussions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return discussion, nil
}

func (s *Store) GetDiscussions(ctx context.Context, args storage.PaginationArgs) ([]*domain.Discussion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*domain.Discussion, 0, len(s.discussions))
	for _, d := range s.discussions {
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return paginate(all, args), nil
}

func (s *Store) FinishDiscussion(ctx context.Context, id string) (*domain.Discussion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	discussion, ok := s.discussions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	// Переход односторонний, повторное завершение - no-op.
	discussion.Status = domain.DiscussionFinished
	return discussion, nil
}

// === Response Methods ===

func (s *Store) CreateResponse(ctx context.Context, response *domain.Response) (*domain.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.discussions[response.DiscussionID]; !ok {
		return nil, storage.ErrNotFound
	}

	// Проверка размещения для вложенного ответа
	if response.ParentID != nil {
		parent, ok := s.responses[*response.ParentID]
		if !ok {
			return nil, storage.ErrNotFound
		}
		// Родитель сам является ответом на ответ - третий уровень запрещен
		if parent.ParentID != nil {
			return nil, storage.ErrNestingLimit
		}
		// Один ответ на ветку от пользователя, независимо от статуса модерации
		for _, replyID := range s.repliesByParent[*response.ParentID] {
			if s.responses[replyID].UserID == response.UserID {
				return nil, storage.ErrDuplicateReply
			}
		}
	}

	response.ID = uuid.NewString()
	response.Status = domain.StatusPending
	response.Upvotes = 0
	response.Downvotes = 0
	response.CreatedAt = time.Now().UTC()
	// Храним собственную копию: структура вызывающей стороны не должна
	// оставаться указателем внутрь хранилища.
	stored := *response
	s.responses[response.ID] = &stored

	if response.ParentID == nil {
		s.rootsByDiscussion[response.DiscussionID] = append(s.rootsByDiscussion[response.DiscussionID], response.ID)
	} else {
		s.repliesByParent[*response.ParentID] = append(s.repliesByParent[*response.ParentID], response.ID)
	}

	return response, nil
}

func (s *Store) GetResponseByID(ctx context.Context, id string) (*domain.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	response, ok := s.responses[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneResponse(response), nil
}

func (s *Store) GetApprovedResponses(ctx context.Context, discussionID string) ([]*domain.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.discussions[discussionID]; !ok {
		return nil, storage.ErrNotFound
	}

	roots := make([]*domain.Response, 0)
	for _, id := range s.rootsByDiscussion[discussionID] {
		if r := s.responses[id]; r.Status == domain.StatusApproved {
			roots = append(roots, cloneResponse(r))
		}
	}
	sort.Slice(roots, func(i, j int) bool {
		return roots[i].CreatedAt.Before(roots[j].CreatedAt)
	})
	return roots, nil
}

func (s *Store) GetPendingResponses(ctx context.Context) ([]*domain.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]*domain.Response, 0)
	for _, r := range s.responses {
		if r.Status == domain.StatusPending {
			pending = append(pending, cloneResponse(r))
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

func (s *Store) SetResponseStatus(ctx context.Context, id string, status domain.ApprovalStatus) (*domain.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	response, ok := s.responses[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	// Безусловная установка: повторное одобрение идемпотентно,
	// при конкурирующих approve/reject побеждает последний.
	response.Status = status
	return cloneResponse(response), nil
}

// === Vote Methods ===

func (s *Store) CastVote(ctx context.Context, voterID, responseID string, voteType domain.VoteType) (*domain.VoteSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	response, ok := s.responses[responseID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	key := voteKey{userID: voterID, responseID: responseID}
	var existing *domain.VoteType
	if vote, ok := s.votes[key]; ok {
		existing = &vote.Type
	}

	tr := domain.ApplyVote(existing, voteType)

	if response.Upvotes+tr.UpDelta < 0 || response.Downvotes+tr.DownDelta < 0 {
		return nil, storage.ErrConsistency
	}

	// Мутация реестра и счетчиков под одним мьютексом - либо обе, либо ни одной.
	switch {
	case tr.Next == nil:
		delete(s.votes, key)
	case existing == nil:
		s.votes[key] = &domain.Vote{
			ID:         uuid.NewString(),
			UserID:     voterID,
			ResponseID: responseID,
			Type:       *tr.Next,
			CreatedAt:  time.Now().UTC(),
		}
	default:
		s.votes[key].Type = *tr.Next
	}
	response.Upvotes += tr.UpDelta
	response.Downvotes += tr.DownDelta

	return &domain.VoteSummary{
		Upvotes:   response.Upvotes,
		Downvotes: response.Downvotes,
		UserVote:  tr.Next,
	}, nil
}

// === Reliable Source Methods ===

func (s *Store) CreateReliableSource(ctx context.Context, source *domain.ReliableSource) (*domain.ReliableSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	host := strings.ToLower(source.Domain)
	if existing, ok := s.sources[host]; ok {
		return existing, nil
	}
	source.ID = uuid.NewString()
	source.Domain = host
	s.sources[host] = source
	return source, nil
}

func (s *Store) GetReliableSources(ctx context.Context) ([]*domain.ReliableSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*domain.ReliableSource, 0, len(s.sources))
	for _, src := range s.sources {
		all = append(all, src)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Domain < all[j].Domain
	})
	return all, nil
}

// === Dataloader Methods ===

func (s *Store) GetApprovedRepliesByParentIDs(ctx context.Context, parentIDs []string) (map[string][]*domain.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make(map[string][]*domain.Response, len(parentIDs))
	for _, pID := range parentIDs {
		replies := make([]*domain.Response, 0)
		for _, rID := range s.repliesByParent[pID] {
			if r := s.responses[rID]; r.Status == domain.StatusApproved {
				replies = append(replies, cloneResponse(r))
			}
		}
		// Dataloader'у нужны отсортированные данные для консистентности
		sort.Slice(replies, func(i, j int) bool {
			return replies[i].CreatedAt.Before(replies[j].CreatedAt)
		})
		results[pID] = replies
	}
	return results, nil
}

func (s *Store) GetVotesByResponseIDs(ctx context.Context, voterID string, responseIDs []string) (map[string]domain.VoteType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make(map[string]domain.VoteType, len(responseIDs))
	for _, rID := range responseIDs {
		if vote, ok := s.votes[voteKey{userID: voterID, responseID: rID}]; ok {
			results[rID] = vote.Type
		}
	}
	return results, nil
}

// cloneResponse возвращает копию ответа. Читающая сторона (листинг
// дополняет ответы голосом зрителя и вложенными ответами) работает со
// своими копиями и не трогает объекты, принадлежащие хранилищу, -
// postgres-хранилище отдает свежие строки на каждый запрос, здесь
// поведение должно совпадать.
func cloneResponse(r *domain.Response) *domain.Response {
	c := *r
	c.Replies = nil
	c.UserVote = nil
	return &c
}

// paginate - вспомогательная функция для limit/offset пагинации.
func paginate[T any](items []T, args storage.PaginationArgs) []T {
	start := args.Offset
	if start >= len(items) {
		return []T{}
	}
	end := len(items)
	if args.Limit > 0 && start+args.Limit < end {
		end = start + args.Limit
	}
	return items[start:end]
}
