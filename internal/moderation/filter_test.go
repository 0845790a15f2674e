package moderation

import (
	"context"
	"testing"

	"outpost/internal/domain"
	"outpost/internal/models"
	"outpost/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func postBy(author *models.Account) *domain.Post {
	return &domain.Post{ID: 1, Author: &domain.Account{ID: author.ID, Domain: author.Domain}}
}

type graph struct {
	f      *testutil.Factory
	filter *Filter

	alice, carol, dave    *models.Account
	aliceU, carolU, daveU *models.User
	bob                   *models.Account
	charlie               *models.Account
}

func newGraph(t *testing.T) *graph {
	t.Helper()
	db := testutil.NewTestDB(t)
	f := testutil.NewFactory(t, db)
	site := f.Site("local.example")

	g := &graph{f: f, filter: NewFilter(db)}
	g.aliceU, g.alice = f.InternalAccount(site)
	g.carolU, g.carol = f.InternalAccount(site)
	g.daveU, g.dave = f.InternalAccount(site)
	g.bob = f.ExternalAccount("bob.example")
	g.charlie = f.ExternalAccount("charlie.example")
	return g
}

func (g *graph) users() []uint {
	return []uint{g.aliceU.ID, g.carolU.ID, g.daveU.ID}
}

func TestFilterUsersForPost_AccountAndDomainBlocks(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	g.f.Block(g.alice, g.bob)
	g.f.DomainBlock(g.carol, "bob.example")

	got, err := g.filter.FilterUsersForPost(ctx, g.users(), postBy(g.bob), 0)
	require.NoError(t, err)
	assert.Equal(t, []uint{g.daveU.ID}, got)
}

func TestFilterUsersForPost_BlockedAuthorHiddenInReposts(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	g.f.Block(g.alice, g.bob)

	got, err := g.filter.FilterUsersForPost(ctx, g.users(), postBy(g.bob), g.charlie.ID)
	require.NoError(t, err)
	assert.NotContains(t, got, g.aliceU.ID)
	assert.ElementsMatch(t, []uint{g.carolU.ID, g.daveU.ID}, got)
}

func TestFilterUsersForPost_BlockedReposter(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	g.f.DomainBlock(g.dave, "charlie.example")

	got, err := g.filter.FilterUsersForPost(ctx, g.users(), postBy(g.bob), g.charlie.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{g.aliceU.ID, g.carolU.ID}, got)

	original, err := g.filter.FilterUsersForPost(ctx, g.users(), postBy(g.bob), 0)
	require.NoError(t, err)
	assert.Len(t, original, 3, "blocking the reposter does not hide the original")
}

func TestFilterUsersForPost_AuthorBlockedReposterHidesFromEveryone(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	g.f.Block(g.bob, g.charlie)

	got, err := g.filter.FilterUsersForPost(ctx, g.users(), postBy(g.bob), g.charlie.ID)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = g.filter.FilterUsersForPost(ctx, g.users(), postBy(g.bob), 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestFilterUsersForPost_ReposterBlockingDoesNotLeak(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	// charlie blocking alice does not hide bob's posts from alice
	g.f.Block(g.charlie, g.alice)

	got, err := g.filter.FilterUsersForPost(ctx, g.users(), postBy(g.bob), 0)
	require.NoError(t, err)
	assert.Contains(t, got, g.aliceU.ID)
}

func TestFilterUsersForAccountInteraction(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	g.f.Block(g.alice, g.charlie)
	g.f.DomainBlock(g.dave, "charlie.example")
	g.f.Block(g.carol, g.bob)

	got, err := g.filter.FilterUsersForAccountInteraction(ctx, g.users(), g.charlie.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{g.carolU.ID}, got)

	got, err = g.filter.FilterUsersForAccountInteraction(ctx, nil, g.charlie.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

func TestFilterUsersForPost_SingleQuery(t *testing.T) {
	db, mock := setupMockDB(t)
	filter := NewFilter(db)

	mock.ExpectQuery(`SELECT users.id AS user_id, 'account' AS reason FROM users .* UNION ALL .*'domain' AS reason .* UNION ALL .*'author_blocked_reposter'`).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "reason"}).AddRow(2, "account"))

	post := &domain.Post{ID: 9, Author: &domain.Account{ID: 10}}
	got, err := filter.FilterUsersForPost(context.Background(), []uint{1, 2, 3, 2}, post, 11)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 3}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFilterUsersForAccountInteraction_SingleQuery(t *testing.T) {
	db, mock := setupMockDB(t)
	filter := NewFilter(db)

	mock.ExpectQuery(`FROM users JOIN blocks .* UNION ALL .*JOIN domain_blocks`).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "reason"}).AddRow(3, "domain"))

	got, err := filter.FilterUsersForAccountInteraction(context.Background(), []uint{1, 3}, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFilter_QueryErrorIsInternal(t *testing.T) {
	db, mock := setupMockDB(t)
	filter := NewFilter(db)

	mock.ExpectQuery(`UNION ALL`).WillReturnError(assert.AnError)

	_, err := filter.FilterUsersForAccountInteraction(context.Background(), []uint{1}, 10)
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeInternal))
}
