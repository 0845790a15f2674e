package testutil

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"outpost/internal/keys"
	"outpost/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	keyOnce    sync.Once
	publicKey  string
	privateKey string
)

// KeyPair returns a process-wide RSA key pair so tests do not pay for key generation each time.
func KeyPair(t testing.TB) (string, string) {
	t.Helper()
	var err error
	keyOnce.Do(func() {
		publicKey, privateKey, err = keys.Generate(keys.DefaultBits)
	})
	require.NoError(t, err)
	require.NotEmpty(t, privateKey)
	return publicKey, privateKey
}

// Factory persists fixture rows.
type Factory struct {
	t  testing.TB
	db *gorm.DB
}

// NewFactory creates a Factory bound to db.
func NewFactory(t testing.TB, db *gorm.DB) *Factory {
	return &Factory{t: t, db: db}
}

// DB returns the factory's database.
func (f *Factory) DB() *gorm.DB {
	return f.db
}

func (f *Factory) create(v interface{}) {
	f.t.Helper()
	require.NoError(f.t, f.db.Create(v).Error)
}

func username() string {
	return strings.ToLower(gofakeit.Username()) + fmt.Sprint(gofakeit.Number(100, 999999))
}

// Site creates a tenant on host.
func (f *Factory) Site(host string) *models.Site {
	site := &models.Site{Host: host, WebhookSecret: gofakeit.Password(true, true, true, false, false, 32)}
	f.create(site)
	return site
}

// ActorRow builds (but does not save) an account row with the standard URL layout on host.
func ActorRow(host, name string) *models.Account {
	base := "https://" + host
	return &models.Account{
		UUID:             uuid.NewString(),
		Username:         name,
		Name:             gofakeit.Name(),
		Bio:              gofakeit.Sentence(8),
		URL:              base + "/@" + name,
		ApID:             base + "/users/" + name,
		ApInboxURL:       base + "/inbox/" + name,
		ApSharedInboxURL: base + "/inbox",
		ApOutboxURL:      base + "/outbox/" + name,
		ApFollowersURL:   base + "/followers/" + name,
		ApFollowingURL:   base + "/following/" + name,
		ApLikedURL:       base + "/liked/" + name,
		Domain:           host,
	}
}

// InternalAccount creates a local user with a keyed account on site.
func (f *Factory) InternalAccount(site *models.Site) (*models.User, *models.Account) {
	f.t.Helper()
	account := ActorRow(site.Host, username())
	account.ApPublicKey, account.ApPrivateKey = KeyPair(f.t)
	f.create(account)

	user := &models.User{AccountID: account.ID, SiteID: site.ID}
	f.create(user)
	return user, account
}

// ExternalAccount creates a remote actor row on host.
func (f *Factory) ExternalAccount(host string, overrides ...func(*models.Account)) *models.Account {
	f.t.Helper()
	account := ActorRow(host, username())
	account.ApPublicKey, _ = KeyPair(f.t)
	for _, o := range overrides {
		o(account)
	}
	f.create(account)
	return account
}

// Post creates a public note by author.
func (f *Factory) Post(author *models.Account, overrides ...func(*models.Post)) *models.Post {
	f.t.Helper()
	id := uuid.NewString()
	post := &models.Post{
		UUID:        id,
		Type:        models.PostTypeNote,
		Audience:    models.AudiencePublic,
		AuthorID:    author.ID,
		Content:     "<p>" + gofakeit.Sentence(12) + "</p>",
		PublishedAt: time.Now().UTC().Add(-time.Duration(gofakeit.Number(1, 600)) * time.Minute),
		ApID:        "https://" + author.Domain + "/posts/" + id,
	}
	for _, o := range overrides {
		o(post)
	}
	f.create(post)
	return post
}

// Follow stores follower -> following.
func (f *Factory) Follow(follower, following *models.Account) {
	f.create(&models.Follow{FollowerID: follower.ID, FollowingID: following.ID})
}

// Block stores blocker -> blocked.
func (f *Factory) Block(blocker, blocked *models.Account) {
	f.create(&models.Block{BlockerID: blocker.ID, BlockedID: blocked.ID})
}

// DomainBlock stores blocker -> domain.
func (f *Factory) DomainBlock(blocker *models.Account, domain string) {
	f.create(&models.DomainBlock{BlockerID: blocker.ID, Domain: domain})
}
