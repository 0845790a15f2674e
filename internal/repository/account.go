// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"outpost/internal/domain"
	"outpost/internal/events"
	"outpost/internal/keys"
	"outpost/internal/models"
	"outpost/internal/observability"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Inbox is one external follower's delivery endpoints.
type Inbox struct {
	AccountID   uint
	Domain      string
	Inbox       string
	SharedInbox string
}

// AccountRepository defines the interface for account data operations
type AccountRepository interface {
	GetByID(ctx context.Context, id uint) (*domain.Account, error)
	GetByApID(ctx context.Context, apID string) (*domain.Account, error)
	GetByIDs(ctx context.Context, ids []uint) ([]*domain.Account, error)
	GetByUserID(ctx context.Context, userID uint) (*domain.Account, error)
	GetLocalByHandle(ctx context.Context, host, username string) (*domain.Account, error)
	CreateInternal(ctx context.Context, site *models.Site, username, name string) (*domain.Account, *models.User, error)
	UpsertExternal(ctx context.Context, row *models.Account) (*domain.Account, error)
	Save(ctx context.Context, account *domain.Account) error
	UserIDForAccount(ctx context.Context, accountID uint) (uint, bool, error)
	IsFollowing(ctx context.Context, followerID, followingID uint) (bool, error)
	IsBlocking(ctx context.Context, blockerID uint, target *domain.Account) (bool, error)
	ListFollowers(ctx context.Context, accountID, cursor uint, limit int) ([]models.Follow, error)
	ListFollowing(ctx context.Context, accountID, cursor uint, limit int) ([]models.Follow, error)
	CountFollowers(ctx context.Context, accountID uint) (int64, error)
	CountFollowing(ctx context.Context, accountID uint) (int64, error)
	LocalFollowerUserIDs(ctx context.Context, accountID uint) ([]uint, error)
	ExternalFollowerInboxes(ctx context.Context, accountID uint) ([]Inbox, error)
	CountLocalUsers(ctx context.Context) (int64, error)
}

// accountRepository implements AccountRepository
type accountRepository struct {
	db     *gorm.DB
	bus    *events.Bus
	logger *observability.RepoLogger
}

// NewAccountRepository creates a new account repository. Events raised by
// saved accounts are published on bus after commit; bus may be nil.
func NewAccountRepository(db *gorm.DB, bus *events.Bus) AccountRepository {
	return &accountRepository{db: db, bus: bus, logger: observability.NewRepoLogger("accounts")}
}

func (r *accountRepository) isInternal(ctx context.Context, accountID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("account_id = ?", accountID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *accountRepository) toEntity(ctx context.Context, row *models.Account) (*domain.Account, error) {
	internal, err := r.isInternal(ctx, row.ID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	account, err := domain.AccountFromRow(row, internal)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return account, nil
}

func (r *accountRepository) GetByID(ctx context.Context, id uint) (*domain.Account, error) {
	var row models.Account
	if err := r.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, mapError(err, "Account", id)
	}
	return r.toEntity(ctx, &row)
}

func (r *accountRepository) GetByApID(ctx context.Context, apID string) (*domain.Account, error) {
	var row models.Account
	if err := r.db.WithContext(ctx).Where("ap_id = ?", apID).First(&row).Error; err != nil {
		return nil, mapError(err, "Account", apID)
	}
	return r.toEntity(ctx, &row)
}

func (r *accountRepository) GetByIDs(ctx context.Context, ids []uint) ([]*domain.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Account
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&rows).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	var internalIDs []uint
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("account_id IN ?", ids).Pluck("account_id", &internalIDs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	internal := make(map[uint]bool, len(internalIDs))
	for _, id := range internalIDs {
		internal[id] = true
	}

	out := make([]*domain.Account, 0, len(rows))
	for i := range rows {
		a, err := domain.AccountFromRow(&rows[i], internal[rows[i].ID])
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *accountRepository) GetByUserID(ctx context.Context, userID uint) (*domain.Account, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Preload("Account").First(&user, userID).Error; err != nil {
		return nil, mapError(err, "User", userID)
	}
	if user.Account == nil {
		return nil, models.NewNotFoundError("Account for user", userID)
	}
	account, err := domain.AccountFromRow(user.Account, true)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return account, nil
}

func (r *accountRepository) GetLocalByHandle(ctx context.Context, host, username string) (*domain.Account, error) {
	var row models.Account
	err := r.db.WithContext(ctx).
		Joins("JOIN users ON users.account_id = accounts.id").
		Joins("JOIN sites ON sites.id = users.site_id").
		Where("sites.host = ? AND LOWER(accounts.username) = ?", strings.ToLower(host), strings.ToLower(username)).
		First(&row).Error
	if err != nil {
		return nil, mapError(err, "Account", username+"@"+host)
	}
	account, err := domain.AccountFromRow(&row, true)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return account, nil
}

func (r *accountRepository) CreateInternal(ctx context.Context, site *models.Site, username, name string) (*domain.Account, *models.User, error) {
	publicPEM, privatePEM, err := keys.Generate(keys.DefaultBits)
	if err != nil {
		return nil, nil, models.NewInternalError(err)
	}

	base := "https://" + site.Host
	row := &models.Account{
		UUID:             uuid.NewString(),
		Username:         username,
		Name:             name,
		URL:              base + "/",
		ApID:             base + "/users/" + username,
		ApInboxURL:       base + "/inbox/" + username,
		ApSharedInboxURL: base + "/inbox",
		ApOutboxURL:      base + "/outbox/" + username,
		ApFollowersURL:   base + "/followers/" + username,
		ApFollowingURL:   base + "/following/" + username,
		ApLikedURL:       base + "/liked/" + username,
		ApPublicKey:      publicPEM,
		ApPrivateKey:     privatePEM,
		Domain:           strings.ToLower(site.Host),
	}
	user := &models.User{SiteID: site.ID}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		user.AccountID = row.ID
		return tx.Create(user).Error
	})
	if err != nil {
		return nil, nil, mapError(err, "Account", username)
	}
	r.logger.LogCreate(ctx, map[string]interface{}{"account_id": row.ID, "site_id": site.ID})

	account, err := domain.AccountFromRow(row, true)
	if err != nil {
		return nil, nil, models.NewInternalError(err)
	}
	return account, user, nil
}

// UpsertExternal inserts a remote actor, or refreshes the stored copy when the ap_id already exists.
func (r *accountRepository) UpsertExternal(ctx context.Context, row *models.Account) (*domain.Account, error) {
	if row.UUID == "" {
		row.UUID = uuid.NewString()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ap_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"username", "name", "bio", "avatar_url", "banner_image_url", "url", "custom_fields",
			"ap_inbox_url", "ap_shared_inbox_url", "ap_outbox_url", "ap_followers_url",
			"ap_following_url", "ap_liked_url", "ap_public_key", "domain", "updated_at",
		}),
	}).Create(row).Error
	if err != nil {
		return nil, mapError(err, "Account", row.ApID)
	}
	return r.GetByApID(ctx, row.ApID)
}

// Save persists the account's pending changes in one transaction, then publishes its events.
func (r *accountRepository) Save(ctx context.Context, account *domain.Account) (err error) {
	changes := account.Changes()
	if len(changes) == 0 {
		return nil
	}
	defer observability.TrackQuery("save", "accounts")()
	ctx, span := observability.TraceRepositoryMethod(ctx, "Save", "accounts")
	defer func() { observability.EndSpan(span, err) }()

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range changes {
			if err := applyAccountChange(tx, account, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.logger.LogError(ctx, err, "save")
		return mapError(err, "Account", account.ID)
	}
	for _, c := range changes {
		if c.Kind == domain.ChangeProfile {
			r.logger.LogUpdate(ctx, map[string]interface{}{"account_id": account.ID})
		}
	}

	evs := account.PullEvents()
	if r.bus != nil {
		r.bus.PublishAll(ctx, evs)
	}
	return nil
}

func applyAccountChange(tx *gorm.DB, a *domain.Account, c domain.Change) error {
	doNothing := clause.OnConflict{DoNothing: true}
	switch c.Kind {
	case domain.ChangeFollow:
		return tx.Clauses(doNothing).Create(&models.Follow{FollowerID: a.ID, FollowingID: c.TargetID}).Error
	case domain.ChangeUnfollow:
		return tx.Where("follower_id = ? AND following_id = ?", a.ID, c.TargetID).Delete(&models.Follow{}).Error
	case domain.ChangeBlock:
		if err := tx.Clauses(doNothing).Create(&models.Block{BlockerID: a.ID, BlockedID: c.TargetID}).Error; err != nil {
			return err
		}
		return tx.Where("(follower_id = ? AND following_id = ?) OR (follower_id = ? AND following_id = ?)",
			a.ID, c.TargetID, c.TargetID, a.ID).Delete(&models.Follow{}).Error
	case domain.ChangeUnblock:
		return tx.Where("blocker_id = ? AND blocked_id = ?", a.ID, c.TargetID).Delete(&models.Block{}).Error
	case domain.ChangeBlockDomain:
		return tx.Clauses(doNothing).Create(&models.DomainBlock{BlockerID: a.ID, Domain: c.Domain}).Error
	case domain.ChangeUnblockDomain:
		return tx.Where("blocker_id = ? AND domain = ?", a.ID, c.Domain).Delete(&models.DomainBlock{}).Error
	case domain.ChangeReadNotifications:
		return tx.Model(&models.Notification{}).
			Where("user_id IN (?) AND read = ?", tx.Model(&models.User{}).Select("id").Where("account_id = ?", a.ID), false).
			Update("read", true).Error
	case domain.ChangeProfile:
		row := domain.AccountToRow(a)
		return tx.Model(&models.Account{}).Where("id = ?", a.ID).Updates(map[string]interface{}{
			"name":             row.Name,
			"bio":              row.Bio,
			"avatar_url":       row.AvatarURL,
			"banner_image_url": row.BannerImageURL,
			"custom_fields":    row.CustomFields,
		}).Error
	default:
		return fmt.Errorf("unsupported account change %d", c.Kind)
	}
}

func (r *accountRepository) UserIDForAccount(ctx context.Context, accountID uint) (uint, bool, error) {
	var user models.User
	err := r.db.WithContext(ctx).Select("id").Where("account_id = ?", accountID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, models.NewInternalError(err)
	}
	return user.ID, true, nil
}

func (r *accountRepository) IsFollowing(ctx context.Context, followerID, followingID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Follow{}).
		Where("follower_id = ? AND following_id = ?", followerID, followingID).
		Count(&count).Error
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

// IsBlocking reports whether blockerID blocked target or target's domain.
func (r *accountRepository) IsBlocking(ctx context.Context, blockerID uint, target *domain.Account) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Block{}).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, target.ID).
		Count(&count).Error
	if err != nil {
		return false, models.NewInternalError(err)
	}
	if count > 0 || target.Domain == "" {
		return count > 0, nil
	}
	err = r.db.WithContext(ctx).Model(&models.DomainBlock{}).
		Where("blocker_id = ? AND domain = ?", blockerID, strings.ToLower(target.Domain)).
		Count(&count).Error
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

func (r *accountRepository) ListFollowers(ctx context.Context, accountID, cursor uint, limit int) ([]models.Follow, error) {
	var follows []models.Follow
	q := r.db.WithContext(ctx).Preload("Follower").Where("following_id = ?", accountID)
	if err := page(q, "id", cursor, limit).Find(&follows).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return follows, nil
}

func (r *accountRepository) ListFollowing(ctx context.Context, accountID, cursor uint, limit int) ([]models.Follow, error) {
	var follows []models.Follow
	q := r.db.WithContext(ctx).Preload("Following").Where("follower_id = ?", accountID)
	if err := page(q, "id", cursor, limit).Find(&follows).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return follows, nil
}

func (r *accountRepository) CountFollowers(ctx context.Context, accountID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Follow{}).Where("following_id = ?", accountID).Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}

func (r *accountRepository) CountFollowing(ctx context.Context, accountID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Follow{}).Where("follower_id = ?", accountID).Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}

// LocalFollowerUserIDs returns the user ids of local accounts following accountID.
func (r *accountRepository) LocalFollowerUserIDs(ctx context.Context, accountID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Joins("JOIN follows ON follows.follower_id = users.account_id").
		Where("follows.following_id = ?", accountID).
		Order("users.id").
		Pluck("users.id", &ids).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

// ExternalFollowerInboxes lists inboxes of remote accounts following accountID.
func (r *accountRepository) ExternalFollowerInboxes(ctx context.Context, accountID uint) ([]Inbox, error) {
	var rows []struct {
		ID               uint
		Domain           string
		ApInboxURL       string
		ApSharedInboxURL string
	}
	err := r.db.WithContext(ctx).Table("accounts").
		Select("accounts.id, accounts.domain, accounts.ap_inbox_url, accounts.ap_shared_inbox_url").
		Joins("JOIN follows ON follows.follower_id = accounts.id").
		Where("follows.following_id = ?", accountID).
		Where("NOT EXISTS (SELECT 1 FROM users WHERE users.account_id = accounts.id)").
		Order("accounts.id").
		Scan(&rows).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	out := make([]Inbox, 0, len(rows))
	for _, row := range rows {
		out = append(out, Inbox{
			AccountID:   row.ID,
			Domain:      row.Domain,
			Inbox:       row.ApInboxURL,
			SharedInbox: row.ApSharedInboxURL,
		})
	}
	return out, nil
}

func (r *accountRepository) CountLocalUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}
