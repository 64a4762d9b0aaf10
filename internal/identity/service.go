package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hochk2019/congno/internal/cache"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	RoleAdmin           = "ADMIN"
	RoleChiefAccountant = "CHIEF_ACCOUNTANT"
	RoleAccountant      = "ACCOUNTANT"
)

var (
	ErrInvalidUsername = errors.New("invalid_username")
	ErrUserNotFound    = errors.New("user_not_found")
)

// User is an operator account. Roles are stored as a comma-separated list;
// role resolution itself is owned by the identity provider upstream, this
// table only mirrors what the ledger needs for ownership checks.
type User struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Username    string       `gorm:"type:text;not null;uniqueIndex"`
	DisplayName string       `gorm:"type:text;not null"`
	Roles       string       `gorm:"type:text;not null;default:''"`
	CreatedAt   time.Time    `gorm:"not null"`
	UpdatedAt   time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

func (u User) RoleList() []string {
	var roles []string
	for _, role := range strings.Split(u.Roles, ",") {
		role = strings.TrimSpace(role)
		if role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

// Service resolves actors for incoming requests.
type Service interface {
	// EnsureUser loads a user by username, creating a bare accountant
	// account on first sight.
	EnsureUser(ctx context.Context, username string) (*User, error)
	// ResolveActor builds the request actor for a username.
	ResolveActor(ctx context.Context, username string) (Actor, error)
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	cache *cache.TTLCache[string, User]
}

const actorCacheTTL = 30 * time.Second

func NewService(p Params) Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("identity.service"),
		genID: p.GenID,
		cache: cache.NewTTLCache[string, User](),
	}
}

func (s *service) EnsureUser(ctx context.Context, username string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrInvalidUsername
	}

	if cached, ok := s.cache.Get(username); ok {
		return &cached, nil
	}

	var user User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = User{
			ID:          s.genID.Generate(),
			Username:    username,
			DisplayName: username,
			Roles:       RoleAccountant,
			CreatedAt:   time.Now().UTC(),
			UpdatedAt:   time.Now().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	s.cache.Set(username, user, actorCacheTTL)
	return &user, nil
}

func (s *service) ResolveActor(ctx context.Context, username string) (Actor, error) {
	user, err := s.EnsureUser(ctx, username)
	if err != nil {
		return Actor{}, err
	}
	return Actor{
		UserID:   int64(user.ID),
		Username: user.Username,
		Roles:    user.RoleList(),
	}, nil
}
