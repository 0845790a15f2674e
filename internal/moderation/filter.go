// Package moderation decides which local users may see a post or an interaction
// given the account and domain blocks they hold.
package moderation

import (
	"context"
	"strings"

	"outpost/internal/domain"
	"outpost/internal/models"
	"outpost/internal/observability"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

const (
	reasonAccount         = "account"
	reasonDomain          = "domain"
	reasonAuthorBlockedRp = "author_blocked_reposter"
)

// Filter runs visibility checks against the blocks and domain_blocks tables.
type Filter struct {
	db *gorm.DB
}

// NewFilter returns a Filter reading from db.
func NewFilter(db *gorm.DB) *Filter {
	return &Filter{db: db}
}

type hit struct {
	UserID uint
	Reason string
}

// FilterUsersForPost returns the users among userIDs allowed to see post,
// optionally reached through a repost by reposterID (0 for none). A user is
// dropped when it blocked the author or the reposter, or blocked either one's
// domain. When the author blocked the reposter nobody sees the repost.
func (f *Filter) FilterUsersForPost(ctx context.Context, userIDs []uint, post *domain.Post, reposterID uint) ([]uint, error) {
	userIDs = lo.Uniq(userIDs)
	if len(userIDs) == 0 || post == nil || post.Author == nil {
		return nil, nil
	}
	authorID := post.Author.ID

	actors := []uint{authorID}
	if reposterID != 0 && reposterID != authorID {
		actors = append(actors, reposterID)
	}

	parts := []string{blockedBySQL, domainBlockedBySQL}
	args := []interface{}{userIDs, actors, userIDs, actors}
	if len(actors) > 1 {
		parts = append(parts, authorBlockedReposterSQL)
		args = append(args, authorID, reposterID)
	}

	hits, err := f.run(ctx, "filter_post", strings.Join(parts, " UNION ALL "), args)
	if err != nil {
		return nil, err
	}
	if lo.ContainsBy(hits, func(h hit) bool { return h.Reason == reasonAuthorBlockedRp }) {
		return []uint{}, nil
	}
	return without(userIDs, hits), nil
}

// FilterUsersForAccountInteraction returns the users among userIDs that have
// not blocked accountID or its domain.
func (f *Filter) FilterUsersForAccountInteraction(ctx context.Context, userIDs []uint, accountID uint) ([]uint, error) {
	userIDs = lo.Uniq(userIDs)
	if len(userIDs) == 0 {
		return nil, nil
	}
	actors := []uint{accountID}
	query := blockedBySQL + " UNION ALL " + domainBlockedBySQL
	hits, err := f.run(ctx, "filter_interaction", query, []interface{}{userIDs, actors, userIDs, actors})
	if err != nil {
		return nil, err
	}
	return without(userIDs, hits), nil
}

const (
	blockedBySQL = `SELECT users.id AS user_id, '` + reasonAccount + `' AS reason FROM users ` +
		`JOIN blocks ON blocks.blocker_id = users.account_id ` +
		`WHERE users.id IN ? AND blocks.blocked_id IN ?`
	domainBlockedBySQL = `SELECT users.id AS user_id, '` + reasonDomain + `' AS reason FROM users ` +
		`JOIN domain_blocks ON domain_blocks.blocker_id = users.account_id ` +
		`JOIN accounts ON accounts.domain = domain_blocks.domain ` +
		`WHERE users.id IN ? AND accounts.id IN ?`
	authorBlockedReposterSQL = `SELECT 0 AS user_id, '` + reasonAuthorBlockedRp + `' AS reason FROM blocks ` +
		`WHERE blocks.blocker_id = ? AND blocks.blocked_id = ?`
)

func (f *Filter) run(ctx context.Context, op, query string, args []interface{}) ([]hit, error) {
	defer observability.TrackQuery(op, "blocks")()
	var hits []hit
	if err := f.db.WithContext(ctx).Raw(query, args...).Scan(&hits).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return hits, nil
}

func without(userIDs []uint, hits []hit) []uint {
	blocked := make(map[uint]struct{}, len(hits))
	for _, h := range hits {
		blocked[h.UserID] = struct{}{}
	}
	return lo.Filter(userIDs, func(id uint, _ int) bool {
		_, ok := blocked[id]
		return !ok
	})
}
