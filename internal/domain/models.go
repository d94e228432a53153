package domain

import "time"

// Role определяет роль пользователя в системе.
type Role string

const (
	RoleRegular   Role = "regular"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// CanModerate сообщает, может ли роль выполнять модераторские действия.
func (r Role) CanModerate() bool {
	return r == RoleModerator || r == RoleAdmin
}

// Stance - позиция автора ответа по отношению к обсуждению.
type Stance string

const (
	StanceAgree    Stance = "agree"
	StanceDisagree Stance = "disagree"
)

func (s Stance) Valid() bool {
	return s == StanceAgree || s == StanceDisagree
}

// ApprovalStatus - статус модерации ответа.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
)

// DiscussionStatus - статус обсуждения.
type DiscussionStatus string

const (
	DiscussionActive   DiscussionStatus = "active"
	DiscussionFinished DiscussionStatus = "finished"
)

// User представляет пользователя системы.
type User struct {
	ID           string    `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name         string    `json:"name" gorm:"type:varchar(100);not null"`
	Email        string    `json:"email" gorm:"type:varchar(100);uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"type:varchar(255);not null"`
	Role         Role      `json:"role" gorm:"type:varchar(20);not null;default:'regular'"`
	CreatedAt    time.Time `json:"createdAt" gorm:"not null;default:now()"`
}

// Discussion представляет обсуждение (тему), созданную администратором.
type Discussion struct {
	ID        string           `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Title     string           `json:"title" gorm:"type:varchar(255);not null"`
	Content   string           `json:"content" gorm:"type:text;not null"`
	Status    DiscussionStatus `json:"status" gorm:"type:varchar(20);not null;default:'active'"`
	UserID    string           `json:"userId" gorm:"type:uuid;not null"`
	CreatedAt time.Time        `json:"createdAt" gorm:"not null;default:now()"`
	Responses []*Response      `json:"-" gorm:"foreignKey:DiscussionID"` // gorm only
}

// Response представляет ответ (согласие/несогласие) в обсуждении.
// Вложенность ограничена одним уровнем: родитель ответа всегда корневой.
// Пара (parent_id, user_id) уникальна - один ответ на ветку от пользователя.
type Response struct {
	ID               string         `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	DiscussionID     string         `json:"discussionId" gorm:"type:uuid;not null;index"`
	UserID           string         `json:"userId" gorm:"type:uuid;not null;uniqueIndex:idx_parent_author,priority:2"`
	Content          string         `json:"content" gorm:"type:text;not null"`
	Stance           Stance         `json:"stance" gorm:"type:varchar(20);not null"`
	Status           ApprovalStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	ParentID         *string        `json:"parentId,omitempty" gorm:"type:uuid;index;uniqueIndex:idx_parent_author,priority:1"`
	IsReliableSource bool           `json:"isReliableSource" gorm:"not null;default:false"`
	Upvotes          int            `json:"upvotes" gorm:"not null;default:0"`
	Downvotes        int            `json:"downvotes" gorm:"not null;default:0"`
	CreatedAt        time.Time      `json:"createdAt" gorm:"not null;default:now()"`
	Replies          []*Response    `json:"replies,omitempty" gorm:"foreignKey:ParentID"` // gorm only

	// UserVote - голос текущего зрителя, заполняется на чтении, в БД не хранится.
	UserVote *VoteType `json:"userVote,omitempty" gorm:"-"`
}

// Vote - голос пользователя за ответ. Не более одного на пару (user, response).
type Vote struct {
	ID         string    `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID     string    `json:"userId" gorm:"type:uuid;not null;uniqueIndex:idx_voter_response,priority:1"`
	ResponseID string    `json:"responseId" gorm:"type:uuid;not null;uniqueIndex:idx_voter_response,priority:2;index"`
	Type       VoteType  `json:"type" gorm:"type:varchar(10);not null"`
	CreatedAt  time.Time `json:"createdAt" gorm:"not null;default:now()"`
}

// ReliableSource - доверенный домен. Ответы со ссылками на такие домены
// помечаются флагом is_reliable_source при создании.
type ReliableSource struct {
	ID     string `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Domain string `json:"domain" gorm:"type:varchar(255);uniqueIndex;not null"`
}
