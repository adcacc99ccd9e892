package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("profile_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("profile_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("profile_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("profile_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("profile_store.unsupported_no_scheme")
)

// DatabaseProfileStore persists profile rows using GORM.
type DatabaseProfileStore struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseProfileStore) Driver() string {
	return store.driverLabel
}

// NewDatabaseProfileStore constructs a GORM-backed store.
func NewDatabaseProfileStore(ctx context.Context, databaseURL string) (*DatabaseProfileStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("profile_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("profile_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&Profile{}); migrateErr != nil {
		return nil, fmt.Errorf("profile_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseProfileStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// UpsertProfile inserts the row or refreshes it on id conflict. The role
// column is deliberately excluded from the conflict update set; roles are
// assigned out of band and a sync must not reset them.
func (store *DatabaseProfileStore) UpsertProfile(ctx context.Context, profile Profile) error {
	if strings.TrimSpace(profile.ID) == "" {
		return fmt.Errorf("profile_store.upsert.%s: %w", store.driverLabel, ErrProfileEmptyID)
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "username", "full_name", "avatar_url", "last_login_at"}),
	}).Create(&profile).Error
	if err != nil {
		return fmt.Errorf("profile_store.upsert.%s: %w", store.driverLabel, err)
	}
	return nil
}

// GetProfileRole reads the stored role for a user id.
func (store *DatabaseProfileStore) GetProfileRole(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("profile_store.role.%s: %w", store.driverLabel, ErrProfileEmptyID)
	}
	var record Profile
	err := store.db.WithContext(ctx).Select("id", "role").Where("id = ?", userID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("profile_store.role.%s: %w", store.driverLabel, ErrProfileNotFound)
		}
		return "", fmt.Errorf("profile_store.role.%s: %w", store.driverLabel, err)
	}
	return record.Role, nil
}

// GetProfile reads a full profile row, for handlers and tests.
func (store *DatabaseProfileStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var record Profile
	err := store.db.WithContext(ctx).Where("id = ?", userID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Profile{}, fmt.Errorf("profile_store.get.%s: %w", store.driverLabel, ErrProfileNotFound)
		}
		return Profile{}, fmt.Errorf("profile_store.get.%s: %w", store.driverLabel, err)
	}
	return record, nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("profile_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("profile_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("profile_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("profile_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
