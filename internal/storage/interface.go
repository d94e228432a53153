package storage

import (
	"context"
	"errors"

	"github.com/UkralStul/discussion-board-service/internal/domain"
)

// Сигнальные ошибки хранилища. Слой API транслирует их в HTTP-статусы.
var (
	ErrNotFound       = errors.New("not found")
	ErrEmailTaken     = errors.New("email already registered")
	ErrNestingLimit   = errors.New("nesting limit reached (max 1 level)")
	ErrDuplicateReply = errors.New("user already replied to this response")
	// ErrConsistency означает нарушение инварианта счетчиков/реестра голосов.
	// Это баг или незащищенная гонка на уровне хранилища, не ошибка клиента.
	ErrConsistency = errors.New("vote counter inconsistency")
)

// PaginationArgs - аргументы для постраничной выборки.
type PaginationArgs struct {
	Limit  int
	Offset int
}

// Storage определяет контракт для хранилищ.
type Storage interface {
	// Пользователи
	CreateUser(ctx context.Context, user *domain.User) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUsers(ctx context.Context, args PaginationArgs) ([]*domain.User, error)
	UpdateUser(ctx context.Context, id string, name, passwordHash *string) (*domain.User, error)
	UpdateUserRole(ctx context.Context, id string, role domain.Role) (*domain.User, error)

	// Обсуждения
	CreateDiscussion(ctx context.Context, discussion *domain.Discussion) (*domain.Discussion, error)
	GetDiscussionByID(ctx context.Context, id string) (*domain.Discussion, error)
	GetDiscussions(ctx context.Context, args PaginationArgs) ([]*domain.Discussion, error)
	FinishDiscussion(ctx context.Context, id string) (*domain.Discussion, error)

	// Ответы. CreateResponse выполняет проверку размещения (существование
	// обсуждения и родителя, глубина, дубликат ответа) в той же
	// транзакции, что и вставка.
	CreateResponse(ctx context.Context, response *domain.Response) (*domain.Response, error)
	GetResponseByID(ctx context.Context, id string) (*domain.Response, error)
	GetApprovedResponses(ctx context.Context, discussionID string) ([]*domain.Response, error)
	GetPendingResponses(ctx context.Context) ([]*domain.Response, error)
	SetResponseStatus(ctx context.Context, id string, status domain.ApprovalStatus) (*domain.Response, error)

	// Голоса. CastVote атомарно применяет переход голосования и
	// возвращает авторитетные счетчики после мутации.
	CastVote(ctx context.Context, voterID, responseID string, voteType domain.VoteType) (*domain.VoteSummary, error)

	// Доверенные источники
	CreateReliableSource(ctx context.Context, source *domain.ReliableSource) (*domain.ReliableSource, error)
	GetReliableSources(ctx context.Context) ([]*domain.ReliableSource, error)

	// Методы для Dataloader'ов
	GetApprovedRepliesByParentIDs(ctx context.Context, parentIDs []string) (map[string][]*domain.Response, error)
	GetVotesByResponseIDs(ctx context.Context, voterID string, responseIDs []string) (map[string]domain.VoteType, error)
}
