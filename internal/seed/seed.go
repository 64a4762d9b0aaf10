package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hochk2019/congno/internal/identity"
	"gorm.io/gorm"
)

const (
	defaultAdminUsername = "admin"
	defaultAdminDisplay  = "Administrator"
)

// EnsureDefaultAdmin seeds the bootstrap admin account so a fresh install
// has at least one privileged user for period locks and overrides.
func EnsureDefaultAdmin(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user identity.User
		err := tx.WithContext(ctx).
			Where("username = ?", defaultAdminUsername).
			First(&user).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		user = identity.User{
			ID:          node.Generate(),
			Username:    defaultAdminUsername,
			DisplayName: defaultAdminDisplay,
			Roles:       identity.RoleAdmin,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return tx.WithContext(ctx).Create(&user).Error
	})
}
