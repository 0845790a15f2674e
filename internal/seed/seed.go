// Package seed populates a development node with local users, remote actors
// and the follows, posts and likes between them. It is intended for
// development and testing only.
package seed

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"outpost/internal/database"
	"outpost/internal/domain"
	"outpost/internal/events"
	"outpost/internal/models"
	"outpost/internal/moderation"
	"outpost/internal/repository"
	"outpost/internal/service"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Options configures a seeding run.
type Options struct {
	Host        string
	NumUsers    int
	NumRemote   int
	NumPosts    int
	ShouldClean bool
}

// Summary counts what a run created.
type Summary struct {
	Site    *models.Site
	Locals  []*domain.Account
	Remotes []*domain.Account
	Posts   int
	Follows int
	Likes   int
}

// Seeder writes through the repositories so feeds and notifications are
// materialized by the same reactors the node runs. Nothing is federated.
type Seeder struct {
	db       *gorm.DB
	accounts repository.AccountRepository
	posts    repository.PostRepository
	rnd      *rand.Rand
}

// NewSeeder wires repositories and the feed and notification reactors on db.
func NewSeeder(db *gorm.DB) *Seeder {
	bus := events.NewBus(nil)
	accounts := repository.NewAccountRepository(db, bus)
	posts := repository.NewPostRepository(db, bus, accounts)
	filter := moderation.NewFilter(db)

	service.NewFeedService(accounts, posts, repository.NewFeedRepository(db), filter).Register(bus)
	service.NewNotificationService(accounts, posts, repository.NewNotificationRepository(db), filter, nil, nil).Register(bus)

	gofakeit.Seed(time.Now().UnixNano())
	//nolint:gosec // Weak random number generator is fine for seeding
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Seeder{db: db, accounts: accounts, posts: posts, rnd: rnd}
}

// ClearAll deletes every row of every persistent table.
func (s *Seeder) ClearAll(ctx context.Context) error {
	log.Println("🗑️  Clearing existing data...")
	all := database.PersistentModels()
	tx := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped()
	for i := len(all) - 1; i >= 0; i-- {
		if err := tx.Delete(all[i]).Error; err != nil {
			return fmt.Errorf("clear %T: %w", all[i], err)
		}
	}
	return nil
}

// Run seeds one site according to opts.
func (s *Seeder) Run(ctx context.Context, opts Options) (*Summary, error) {
	log.Printf("🌱 Seeding %s with %d users, %d remote actors and %d posts...",
		opts.Host, opts.NumUsers, opts.NumRemote, opts.NumPosts)

	if opts.ShouldClean {
		if err := s.ClearAll(ctx); err != nil {
			return nil, err
		}
	}

	sum := &Summary{}
	site, err := s.site(ctx, opts.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to create site: %w", err)
	}
	sum.Site = site

	if sum.Locals, err = s.createLocals(ctx, site, opts.NumUsers); err != nil {
		return nil, fmt.Errorf("failed to create users: %w", err)
	}
	log.Printf("✓ %d local accounts created", len(sum.Locals))

	if sum.Remotes, err = s.createRemotes(ctx, opts.NumRemote); err != nil {
		return nil, fmt.Errorf("failed to create remote actors: %w", err)
	}
	log.Printf("✓ %d remote actors stored", len(sum.Remotes))

	if sum.Follows, err = s.createFollows(ctx, sum.Locals, sum.Remotes); err != nil {
		return nil, fmt.Errorf("failed to create follows: %w", err)
	}
	log.Printf("✓ %d follows created", sum.Follows)

	authors := append(append([]*domain.Account{}, sum.Locals...), sum.Remotes...)
	posts, err := s.createPosts(ctx, authors, opts.NumPosts)
	if err != nil {
		return nil, fmt.Errorf("failed to create posts: %w", err)
	}
	sum.Posts = len(posts)
	log.Printf("✓ %d posts created", sum.Posts)

	if sum.Likes, err = s.createLikes(ctx, posts, authors); err != nil {
		return nil, fmt.Errorf("failed to create likes: %w", err)
	}
	log.Printf("✓ %d likes created", sum.Likes)

	log.Println("🎉 Database seeding completed successfully!")
	return sum, nil
}

func (s *Seeder) site(ctx context.Context, host string) (*models.Site, error) {
	site := &models.Site{Host: host}
	err := s.db.WithContext(ctx).Where(models.Site{Host: host}).
		Attrs(models.Site{WebhookSecret: gofakeit.Password(true, true, true, false, false, 32)}).
		FirstOrCreate(site).Error
	return site, err
}

func (s *Seeder) createLocals(ctx context.Context, site *models.Site, count int) ([]*domain.Account, error) {
	out := make([]*domain.Account, 0, count+1)
	index, _, err := s.accounts.CreateInternal(ctx, site, service.SiteAccountUsername, gofakeit.Company())
	if err != nil && !models.IsConflict(err) {
		return nil, err
	}
	if index != nil {
		out = append(out, index)
	}

	for i := 0; i < count; i++ {
		account, _, err := s.accounts.CreateInternal(ctx, site, username(i), gofakeit.Name())
		if err != nil {
			log.Printf("Failed to create local account: %v", err)
			continue
		}
		account.UpdateProfile(domain.ProfileUpdate{Bio: strPtr(gofakeit.Sentence(10))})
		if err := s.accounts.Save(ctx, account); err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, nil
}

func (s *Seeder) createRemotes(ctx context.Context, count int) ([]*domain.Account, error) {
	out := make([]*domain.Account, 0, count)
	for i := 0; i < count; i++ {
		row, err := remoteActor(fmt.Sprintf("remote%d.example", i%3), username(i))
		if err != nil {
			return nil, err
		}
		account, err := s.accounts.UpsertExternal(ctx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, nil
}

// createFollows has every remote follow one local account and every local
// follow roughly half of the others.
func (s *Seeder) createFollows(ctx context.Context, locals, remotes []*domain.Account) (int, error) {
	if len(locals) == 0 {
		return 0, nil
	}
	n := 0
	follow := func(a, b *domain.Account) error {
		if a.ID == b.ID {
			return nil
		}
		a.Follow(b)
		if err := s.accounts.Save(ctx, a); err != nil {
			return err
		}
		n++
		return nil
	}
	for _, r := range remotes {
		if err := follow(r, locals[s.rnd.Intn(len(locals))]); err != nil {
			return n, err
		}
	}
	for _, a := range locals {
		for _, b := range append(append([]*domain.Account{}, locals...), remotes...) {
			if s.rnd.Intn(2) == 0 {
				continue
			}
			if err := follow(a, b); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

func (s *Seeder) createPosts(ctx context.Context, authors []*domain.Account, count int) ([]*domain.Post, error) {
	if len(authors) == 0 {
		return nil, nil
	}
	out := make([]*domain.Post, 0, count)
	for i := 0; i < count; i++ {
		author := authors[s.rnd.Intn(len(authors))]
		in := postInput(s.rnd, author)
		if !author.Internal {
			apID, err := domain.ParseActorURL("https://" + author.Domain + "/notes/" + gofakeit.UUID())
			if err != nil {
				return nil, err
			}
			in.ApID = apID
		}
		post := domain.NewPost(author, in)
		if err := s.posts.Save(ctx, post); err != nil {
			return nil, err
		}
		out = append(out, post)

		if i > 0 && i%50 == 0 {
			log.Printf("Created %d posts...", i)
		}
	}
	return out, nil
}

func (s *Seeder) createLikes(ctx context.Context, posts []*domain.Post, accounts []*domain.Account) (int, error) {
	n := 0
	for _, post := range posts {
		for _, a := range accounts {
			if a.ID == post.Author.ID || s.rnd.Intn(4) != 0 {
				continue
			}
			post.AddLike(a)
			n++
		}
		if err := s.posts.Save(ctx, post); err != nil {
			return n, err
		}
	}
	return n, nil
}

func strPtr(s string) *string { return &s }
