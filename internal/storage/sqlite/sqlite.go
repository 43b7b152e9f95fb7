package sqlite

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/okvee/parlor/internal/config"
	"github.com/okvee/parlor/internal/storage"
)

// Store is a GORM-backed SQLite implementation of storage.Store.
type Store struct {
	db *gorm.DB
}

type userModel struct {
	ID        string `gorm:"primaryKey"`
	Username  string `gorm:"uniqueIndex"`
	Email     string
	Password  string
	Online    bool
	LastSeen  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (userModel) TableName() string { return "users" }

type roomModel struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"uniqueIndex"`
	Description string
	IsPrivate   bool
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (roomModel) TableName() string { return "rooms" }

type roomMemberModel struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	RoomID   string `gorm:"uniqueIndex:idx_room_user"`
	UserID   string `gorm:"uniqueIndex:idx_room_user"`
	Role     string
	JoinedAt time.Time
}

func (roomMemberModel) TableName() string { return "room_members" }

type messageModel struct {
	ID        string `gorm:"primaryKey"`
	Room      string `gorm:"index:idx_room_created"`
	SenderID  string
	Content   string
	CreatedAt time.Time `gorm:"index:idx_room_created"`
}

func (messageModel) TableName() string { return "messages" }

type messageRow struct {
	ID         string
	Room       string
	SenderID   string
	SenderName string
	Content    string
	CreatedAt  time.Time
}

// NewStore opens a SQLite database at the provided path.
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate applies schema updates.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&userModel{},
		&roomModel{},
		&roomMemberModel{},
		&messageModel{},
	)
}

// CreateUser stores a new user record.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	model := userModel{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Password:  user.Password,
		Online:    user.Online,
		LastSeen:  user.LastSeen,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return toUser(model), nil
}

// GetUserByID retrieves a user by primary key.
func (s *Store) GetUserByID(ctx context.Context, id string) (*storage.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return toUser(model), nil
}

// SetUserPresence updates the online flag and last-seen timestamp.
func (s *Store) SetUserPresence(ctx context.Context, id string, online bool, seen time.Time) error {
	return s.db.WithContext(ctx).Model(&userModel{}).Where("id = ?", id).
		Updates(map[string]interface{}{"online": online, "last_seen": seen}).Error
}

// FindRoomByName retrieves a room by its case-insensitive name key.
func (s *Store) FindRoomByName(ctx context.Context, name string) (*storage.Room, error) {
	var model roomModel
	key := strings.ToLower(strings.TrimSpace(name))
	if err := s.db.WithContext(ctx).Where("name = ?", key).First(&model).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return toRoom(model), nil
}

// CreateRoom persists the room together with its creator as the sole
// admin member. The unique index on name arbitrates concurrent creates
// of the same name: the loser receives storage.ErrRoomExists.
func (s *Store) CreateRoom(ctx context.Context, room *storage.Room) error {
	if room == nil {
		return errors.New("nil room")
	}
	room.Name = strings.ToLower(strings.TrimSpace(room.Name))
	model := roomModel{
		ID:          room.ID,
		Name:        room.Name,
		Description: room.Description,
		IsPrivate:   room.IsPrivate,
		CreatedBy:   room.CreatedBy,
		CreatedAt:   room.CreatedAt,
		UpdatedAt:   room.UpdatedAt,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		member := roomMemberModel{
			RoomID:   model.ID,
			UserID:   model.CreatedBy,
			Role:     storage.RoleAdmin,
			JoinedAt: model.CreatedAt,
		}
		return tx.Create(&member).Error
	})
	if isDuplicate(err) {
		return storage.ErrRoomExists
	}
	return err
}

// EnsureMember appends a membership entry if the user is not yet a
// member of the room.
func (s *Store) EnsureMember(ctx context.Context, roomID, userID, role string) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&roomMemberModel{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	member := roomMemberModel{
		RoomID:   roomID,
		UserID:   userID,
		Role:     role,
		JoinedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&member).Error; err != nil {
		// A concurrent join already appended the entry.
		if isDuplicate(err) {
			return nil
		}
		return err
	}
	return nil
}

// ListPublicRooms returns all non-private rooms.
func (s *Store) ListPublicRooms(ctx context.Context) ([]storage.Room, error) {
	var models []roomModel
	err := s.db.WithContext(ctx).
		Where("is_private = ?", false).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	rooms := make([]storage.Room, 0, len(models))
	for _, m := range models {
		rooms = append(rooms, *toRoom(m))
	}
	return rooms, nil
}

// SaveMessage stores a new chat message.
func (s *Store) SaveMessage(ctx context.Context, msg *storage.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	model := messageModel{
		ID:        msg.ID,
		Room:      msg.Room,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// RecentMessages returns up to limit messages for the room, newest
// first, resolving sender usernames at read time.
func (s *Store) RecentMessages(ctx context.Context, room string, limit int) ([]storage.Message, error) {
	var rows []messageRow
	err := s.db.WithContext(ctx).Model(&messageModel{}).
		Select("messages.id, messages.room, messages.sender_id, messages.content, messages.created_at, users.username AS sender_name").
		Joins("LEFT JOIN users ON users.id = messages.sender_id").
		Where("messages.room = ?", room).
		Order("messages.created_at DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	msgs := make([]storage.Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, storage.Message{
			ID:         r.ID,
			Room:       r.Room,
			SenderID:   r.SenderID,
			SenderName: r.SenderName,
			Content:    r.Content,
			CreatedAt:  r.CreatedAt,
		})
	}
	return msgs, nil
}

func toUser(m userModel) *storage.User {
	return &storage.User{
		ID:        m.ID,
		Username:  m.Username,
		Email:     m.Email,
		Password:  m.Password,
		Online:    m.Online,
		LastSeen:  m.LastSeen,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toRoom(m roomModel) *storage.Room {
	return &storage.Room{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		IsPrivate:   m.IsPrivate,
		CreatedBy:   m.CreatedBy,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
