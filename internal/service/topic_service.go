package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"outpost/internal/domain"
	"outpost/internal/models"
	"outpost/internal/repository"
	"outpost/internal/validation"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// TopicSource is the desired topic directory, usually read from a YAML file.
type TopicSource struct {
	Topics []TopicEntry `yaml:"topics"`
}

// TopicEntry lists the actor ids that belong to one topic.
type TopicEntry struct {
	Slug     string   `yaml:"slug"`
	Name     string   `yaml:"name"`
	Accounts []string `yaml:"accounts"`
}

// ReadTopicSource decodes a YAML topic source.
func ReadTopicSource(r io.Reader) (*TopicSource, error) {
	var src TopicSource
	if err := yaml.NewDecoder(r).Decode(&src); err != nil && err != io.EOF {
		return nil, models.NewValidationError(fmt.Sprintf("invalid topic source: %v", err))
	}
	for _, t := range src.Topics {
		if err := validation.ValidateTopicSlug(t.Slug); err != nil {
			return nil, models.NewValidationError(fmt.Sprintf("topic %q: %v", t.Slug, err))
		}
	}
	return &src, nil
}

// LoadTopicSource reads the topic source at path.
func LoadTopicSource(path string) (*TopicSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTopicSource(f)
}

// TopicService keeps the topic directory in step with a TopicSource.
type TopicService struct {
	accounts repository.AccountRepository
	topics   repository.TopicRepository
	resolver ActorResolver
	logger   *slog.Logger
}

// NewTopicService returns a new TopicService.
func NewTopicService(accounts repository.AccountRepository, topics repository.TopicRepository, resolver ActorResolver, logger *slog.Logger) *TopicService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TopicService{accounts: accounts, topics: topics, resolver: resolver, logger: logger}
}

// ReconcileAccountsForTopics upserts every topic and its accounts and drops
// mappings no longer listed. Accounts that cannot be resolved are skipped.
// Running it twice with the same source changes nothing the second time.
func (s *TopicService) ReconcileAccountsForTopics(ctx context.Context, src *TopicSource) (repository.ReconcileStats, error) {
	resolved := make(map[string]uint)
	desired := make([]repository.TopicMembers, 0, len(src.Topics))

	for _, t := range lo.UniqBy(src.Topics, func(t TopicEntry) string { return t.Slug }) {
		ids := make([]uint, 0, len(t.Accounts))
		for _, apID := range lo.Uniq(t.Accounts) {
			id, ok := resolved[apID]
			if !ok {
				account, err := s.account(ctx, apID)
				if err != nil {
					s.logger.WarnContext(ctx, "skipping topic account",
						slog.String("topic", t.Slug),
						slog.String("ap_id", apID),
						slog.String("error", err.Error()),
					)
					continue
				}
				id = account.ID
				resolved[apID] = id
			}
			ids = append(ids, id)
		}
		name := t.Name
		if name == "" {
			name = t.Slug
		}
		desired = append(desired, repository.TopicMembers{Slug: t.Slug, Name: name, AccountIDs: ids})
	}

	stats, err := s.topics.Reconcile(ctx, desired)
	if err != nil {
		return stats, err
	}
	s.logger.InfoContext(ctx, "topics reconciled",
		slog.Int("topics", stats.TopicsUpserted),
		slog.Int64("added", stats.MappingsAdded),
		slog.Int64("removed", stats.MappingsRemoved),
	)
	return stats, nil
}

func (s *TopicService) account(ctx context.Context, apID string) (*domain.Account, error) {
	account, err := s.accounts.GetByApID(ctx, apID)
	if err == nil || !models.IsNotFound(err) || s.resolver == nil {
		return account, err
	}
	u, err := domain.ParseActorURL(apID)
	if err != nil {
		return nil, err
	}
	return s.resolver.ResolveActor(ctx, u)
}

// Topics lists the topic directory.
func (s *TopicService) Topics(ctx context.Context) ([]models.Topic, error) {
	return s.topics.List(ctx)
}
