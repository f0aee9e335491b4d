package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"immochat/models"
	"immochat/pkg/cache"
)

// GormConversationRepo persists conversations through gorm.
type GormConversationRepo struct {
	db *gorm.DB
}

func NewGormConversationRepo(db *gorm.DB) *GormConversationRepo {
	return &GormConversationRepo{db: db}
}

// Ensure upserts the conversation keyed on id, refreshing the participant
// columns so a guest thread is reconciled once the same browser logs in.
// A duplicate-key error is absorbed as success: upsert should make it
// unreachable, but the fallback is kept for backends whose conflict handling
// has proven unreliable.
func (r *GormConversationRepo) Ensure(ctx context.Context, conv models.Conversation) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"guest_identifier", "user_id", "updated_at"}),
	}).Create(&conv).Error
	if err != nil && isDuplicateKey(err) {
		return nil
	}
	return err
}

func (r *GormConversationRepo) Get(ctx context.Context, id string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).Preload("Messages").First(&conv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Conversation{}, ErrNotFound
	}
	return conv, err
}

func (r *GormConversationRepo) List(ctx context.Context) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.WithContext(ctx).Preload("Messages").Find(&convs).Error
	return convs, err
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// mysql 1062 before gorm error translation
	return strings.Contains(err.Error(), "Duplicate entry")
}

// GormMessageRepo persists the append-only message log.
type GormMessageRepo struct {
	db *gorm.DB
}

func NewGormMessageRepo(db *gorm.DB) *GormMessageRepo {
	return &GormMessageRepo{db: db}
}

func (r *GormMessageRepo) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	if err := r.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return models.Message{}, err
	}
	// row now carries the server-assigned id and created_at
	return msg, nil
}

func (r *GormMessageRepo) ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at asc, id asc").
		Find(&msgs).Error
	return msgs, err
}

func (r *GormMessageRepo) MarkRead(ctx context.Context, conversationID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND is_read = ? AND sender_role <> ?", conversationID, false, models.RoleAdmin).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

// GormUserDirectory resolves participant first names, with a TTL cache in
// front since the inbox recomputes rows on every insert.
type GormUserDirectory struct {
	db  *gorm.DB
	ttl time.Duration
}

func NewGormUserDirectory(db *gorm.DB, ttl time.Duration) *GormUserDirectory {
	return &GormUserDirectory{db: db, ttl: ttl}
}

func (d *GormUserDirectory) FirstName(ctx context.Context, userID uint) (string, bool) {
	key := cache.KeyFromStrings("user-first-name", strconv.FormatUint(uint64(userID), 10))
	if v, ok := cache.Default().Get(key); ok {
		if name, ok2 := v.(string); ok2 {
			return name, name != ""
		}
	}

	var user models.User
	if err := d.db.WithContext(ctx).Select("first_name").First(&user, userID).Error; err != nil {
		return "", false
	}
	cache.Default().Set(key, user.FirstName, d.ttl)
	return user.FirstName, user.FirstName != ""
}
