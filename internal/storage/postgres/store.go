package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/UkralStul/discussion-board-service/internal/domain"
	"github.com/UkralStul/discussion-board-service/internal/storage"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store реализует интерфейс Storage с использованием PostgreSQL.
type Store struct {
	db *gorm.DB
}

// New создает новый экземпляр хранилища PostgreSQL.
// TranslateError нужен, чтобы нарушения уникальных индексов приходили
// как gorm.ErrDuplicatedKey, а не как сырая ошибка драйвера.
func New(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Выполняем миграцию схемы
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.Discussion{},
		&domain.Response{},
		&domain.Vote{},
		&domain.ReliableSource{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// notFound переводит gorm.ErrRecordNotFound в сигнальную ошибку хранилища.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}

// === User Methods ===

func (s *Store) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	user.Email = strings.ToLower(user.Email)
	if user.Role == "" {
		user.Role = domain.RoleRegular
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, storage.ErrEmailTaken
		}
		return nil, err
	}
	return user, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	if err := s.db.WithContext(ctx).First(&user, "email = ?", strings.ToLower(email)).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) GetUsers(ctx context.Context, args storage.PaginationArgs) ([]*domain.User, error) {
	var users []*domain.User
	err := s.db.WithContext(ctx).
		Order("created_at ASC").
		Limit(args.Limit).Offset(args.Offset).
		Find(&users).Error
	return users, err
}

func (s *Store) UpdateUser(ctx context.Context, id string, name, passwordHash *string) (*domain.User, error) {
	var user domain.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		if name != nil {
			user.Name = *name
		}
		if passwordHash != nil {
			user.PasswordHash = *passwordHash
		}
		return tx.Save(&user).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) UpdateUserRole(ctx context.Context, id string, role domain.Role) (*domain.User, error) {
	var user domain.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		user.Role = role
		return tx.Save(&user).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// === Discussion Methods ===

func (s *Store) CreateDiscussion(ctx context.Context, discussion *domain.Discussion) (*domain.Discussion, error) {
	discussion.Status = domain.DiscussionActive
	if err := s.db.WithContext(ctx).Create(discussion).Error; err != nil {
		return nil, err
	}
	return discussion, nil
}

func (s *Store) GetDiscussionByID(ctx context.Context, id string) (*domain.Discussion, error) {
	var discussion domain.Discussion
	if err := s.db.WithContext(ctx).First(&discussion, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &discussion, nil
}

func (s *Store) GetDiscussions(ctx context.Context, args storage.PaginationArgs) ([]*domain.Discussion, error) {
	var discussions []*domain.Discussion
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(args.Limit).Offset(args.Offset).
		Find(&discussions).Error
	return discussions, err
}

func (s *Store) FinishDiscussion(ctx context.Context, id string) (*domain.Discussion, error) {
	var discussion domain.Discussion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&discussion, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		// Односторонний переход, повторное завершение - no-op
		discussion.Status = domain.DiscussionFinished
		return tx.Save(&discussion).Error
	})
	if err != nil {
		return nil, err
	}
	return &discussion, nil
}

// === Response Methods ===

// CreateResponse выполняет проверку размещения и вставку в одной транзакции.
// Проверка дубликата - лишь ранний отказ: авторитетная защита от гонки
// двух одновременных ответов - уникальный индекс (parent_id, user_id),
// нарушение которого транслируется в ту же бизнес-ошибку.
func (s *Store) CreateResponse(ctx context.Context, response *domain.Response) (*domain.Response, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var discussionCount int64
		if err := tx.Model(&domain.Discussion{}).Where("id = ?", response.DiscussionID).Count(&discussionCount).Error; err != nil {
			return err
		}
		if discussionCount == 0 {
			return storage.ErrNotFound
		}

		if response.ParentID != nil {
			var parent domain.Response
			if err := tx.First(&parent, "id = ?", *response.ParentID).Error; err != nil {
				return notFound(err)
			}
			// Родитель уже является ответом на ответ - третий уровень запрещен
			if parent.ParentID != nil {
				return storage.ErrNestingLimit
			}
			var replyCount int64
			if err := tx.Model(&domain.Response{}).
				Where("parent_id = ? AND user_id = ?", *response.ParentID, response.UserID).
				Count(&replyCount).Error; err != nil {
				return err
			}
			if replyCount > 0 {
				return storage.ErrDuplicateReply
			}
		}

		response.Status = domain.StatusPending
		response.Upvotes = 0
		response.Downvotes = 0
		if err := tx.Create(response).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return storage.ErrDuplicateReply
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (s *Store) GetResponseByID(ctx context.Context, id string) (*domain.Response, error) {
	var response domain.Response
	if err := s.db.WithContext(ctx).First(&response, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &response, nil
}

func (s *Store) GetApprovedResponses(ctx context.Context, discussionID string) ([]*domain.Response, error) {
	var discussionCount int64
	if err := s.db.WithContext(ctx).Model(&domain.Discussion{}).Where("id = ?", discussionID).Count(&discussionCount).Error; err != nil {
		return nil, err
	}
	if discussionCount == 0 {
		return nil, storage.ErrNotFound
	}

	var responses []*domain.Response
	err := s.db.WithContext(ctx).
		Where("discussion_id = ? AND parent_id IS NULL AND status = ?", discussionID, domain.StatusApproved).
		Order("created_at ASC").
		Find(&responses).Error
	return responses, err
}

func (s *Store) GetPendingResponses(ctx context.Context) ([]*domain.Response, error) {
	var responses []*domain.Response
	err := s.db.WithContext(ctx).
		Where("status = ?", domain.StatusPending).
		Order("created_at ASC").
		Find(&responses).Error
	return responses, err
}

func (s *Store) SetResponseStatus(ctx context.Context, id string, status domain.ApprovalStatus) (*domain.Response, error) {
	var response domain.Response
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&response, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		// Безусловная установка: повторное одобрение идемпотентно,
		// конкурирующие approve/reject - last-write-wins.
		response.Status = status
		return tx.Save(&response).Error
	})
	if err != nil {
		return nil, err
	}
	return &response, nil
}

// === Vote Methods ===

// CastVote применяет переход голосования атомарно: строка ответа берется
// под FOR UPDATE, мутация реестра и счетчиков коммитится вместе.
func (s *Store) CastVote(ctx context.Context, voterID, responseID string, voteType domain.VoteType) (*domain.VoteSummary, error) {
	var summary domain.VoteSummary
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var response domain.Response
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&response, "id = ?", responseID).Error; err != nil {
			return notFound(err)
		}

		var vote domain.Vote
		var existing *domain.VoteType
		err := tx.First(&vote, "user_id = ? AND response_id = ?", voterID, responseID).Error
		switch {
		case err == nil:
			existing = &vote.Type
		case errors.Is(err, gorm.ErrRecordNotFound):
			// голоса еще нет
		default:
			return err
		}

		tr := domain.ApplyVote(existing, voteType)

		if response.Upvotes+tr.UpDelta < 0 || response.Downvotes+tr.DownDelta < 0 {
			log.Printf("vote counter would go negative: response=%s up=%d down=%d deltas=(%d,%d)",
				responseID, response.Upvotes, response.Downvotes, tr.UpDelta, tr.DownDelta)
			return storage.ErrConsistency
		}

		switch {
		case tr.Next == nil:
			if err := tx.Delete(&vote).Error; err != nil {
				return err
			}
		case existing == nil:
			newVote := domain.Vote{UserID: voterID, ResponseID: responseID, Type: *tr.Next}
			if err := tx.Create(&newVote).Error; err != nil {
				// Гонка двух первых голосов: уникальный индекс (user_id, response_id)
				// не дает второй вставке пройти, транзакция откатывается целиком.
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return storage.ErrConsistency
				}
				return err
			}
		default:
			vote.Type = *tr.Next
			if err := tx.Save(&vote).Error; err != nil {
				return err
			}
		}

		response.Upvotes += tr.UpDelta
		response.Downvotes += tr.DownDelta
		if err := tx.Model(&domain.Response{}).Where("id = ?", responseID).
			Updates(map[string]interface{}{
				"upvotes":   response.Upvotes,
				"downvotes": response.Downvotes,
			}).Error; err != nil {
			return err
		}

		summary = domain.VoteSummary{
			Upvotes:   response.Upvotes,
			Downvotes: response.Downvotes,
			UserVote:  tr.Next,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// === Reliable Source Methods ===

func (s *Store) CreateReliableSource(ctx context.Context, source *domain.ReliableSource) (*domain.ReliableSource, error) {
	source.Domain = strings.ToLower(source.Domain)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "domain"}}, DoNothing: true}).
		Create(source).Error
	if err != nil {
		return nil, err
	}
	// При конфликте вставка не вернула ID - перечитываем существующую запись
	if source.ID == "" {
		if err := s.db.WithContext(ctx).First(source, "domain = ?", source.Domain).Error; err != nil {
			return nil, err
		}
	}
	return source, nil
}

func (s *Store) GetReliableSources(ctx context.Context) ([]*domain.ReliableSource, error) {
	var sources []*domain.ReliableSource
	err := s.db.WithContext(ctx).Order("domain ASC").Find(&sources).Error
	return sources, err
}

// === Dataloader Methods ===

func (s *Store) GetApprovedRepliesByParentIDs(ctx context.Context, parentIDs []string) (map[string][]*domain.Response, error) {
	var replies []*domain.Response
	// Загружаем одобренные ответы для всех родителей одним запросом
	err := s.db.WithContext(ctx).
		Where("parent_id IN ? AND status = ?", parentIDs, domain.StatusApproved).
		Order("parent_id, created_at ASC").
		Find(&replies).Error
	if err != nil {
		return nil, err
	}

	result := make(map[string][]*domain.Response, len(parentIDs))
	for _, r := range replies {
		if r.ParentID != nil {
			result[*r.ParentID] = append(result[*r.ParentID], r)
		}
	}
	return result, nil
}

func (s *Store) GetVotesByResponseIDs(ctx context.Context, voterID string, responseIDs []string) (map[string]domain.VoteType, error) {
	var votes []*domain.Vote
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND response_id IN ?", voterID, responseIDs).
		Find(&votes).Error
	if err != nil {
		return nil, err
	}

	result := make(map[string]domain.VoteType, len(votes))
	for _, v := range votes {
		result[v.ResponseID] = v.Type
	}
	return result, nil
}
