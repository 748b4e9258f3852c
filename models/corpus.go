package models

import (
	"time"

	"gorm.io/gorm"
)

// Post and Engagement rows are written by the ingestion service. This module only reads them.
type Post struct {
	URI       string    `gorm:"column:uri;primarykey"`
	AuthorDID string    `gorm:"column:author_did;index;not null"`
	Text      string    `gorm:"column:text;type:text"`
	HasMedia  bool      `gorm:"column:has_media;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;index"`
	IndexedAt time.Time `gorm:"column:indexed_at"`
	Deleted   bool      `gorm:"column:deleted;default:false;index"`

	LikeCount   int64 `gorm:"column:like_count;default:0"`
	RepostCount int64 `gorm:"column:repost_count;default:0"`
	ReplyCount  int64 `gorm:"column:reply_count;default:0"`
}

func (Post) TableName() string {
	return "post"
}

type EngagementKind string

const (
	EngagementLike   = EngagementKind("like")
	EngagementRepost = EngagementKind("repost")
	EngagementReply  = EngagementKind("reply")
)

type Engagement struct {
	ID        uint64         `gorm:"column:id;primarykey"`
	PostURI   string         `gorm:"column:post_uri;index;not null"`
	ActorDID  string         `gorm:"column:actor_did;index;not null"`
	Kind      EngagementKind `gorm:"column:kind;not null"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (Engagement) TableName() string {
	return "engagement"
}

// All tables, in migration order.
func AllModels() []any {
	return []any{
		&GovernanceEpoch{},
		&Vote{},
		&AuditLogEntry{},
		&ScoredPost{},
		&SystemStatus{},
		&OutboxEvent{},
		&Post{},
		&Engagement{},
	}
}

func MigrateDatabase(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
