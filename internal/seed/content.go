package seed

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"

	"outpost/internal/domain"
	"outpost/internal/keys"
	"outpost/internal/models"

	"github.com/brianvoe/gofakeit/v6"
)

var handleUnsafe = regexp.MustCompile(`[^a-z0-9_]+`)

// username returns a lower-case handle; i keeps it unique within a run.
func username(i int) string {
	base := handleUnsafe.ReplaceAllString(strings.ToLower(gofakeit.Username()), "")
	if base == "" {
		base = "user"
	}
	if len(base) > 20 {
		base = base[:20]
	}
	return fmt.Sprintf("%s%d", base, i)
}

// remoteActor builds an actor row laid out like a typical remote server.
func remoteActor(host, name string) (*models.Account, error) {
	pub, _, err := keys.Generate(keys.DefaultBits)
	if err != nil {
		return nil, err
	}
	base := "https://" + host
	return &models.Account{
		Username:         name,
		Name:             gofakeit.Name(),
		Bio:              gofakeit.Sentence(8),
		AvatarURL:        fmt.Sprintf("https://i.pravatar.cc/150?u=%s", name),
		URL:              base + "/@" + name,
		ApID:             base + "/users/" + name,
		ApInboxURL:       base + "/users/" + name + "/inbox",
		ApSharedInboxURL: base + "/inbox",
		ApOutboxURL:      base + "/users/" + name + "/outbox",
		ApFollowersURL:   base + "/users/" + name + "/followers",
		ApFollowingURL:   base + "/users/" + name + "/following",
		ApLikedURL:       base + "/users/" + name + "/liked",
		ApPublicKey:      pub,
		Domain:           host,
	}, nil
}

// postInput returns a note, or an article for one post in five.
func postInput(rnd *rand.Rand, author *domain.Account) domain.PostInput {
	in := domain.PostInput{
		Type:     models.PostTypeNote,
		Audience: models.AudiencePublic,
		Content:  "<p>" + gofakeit.Sentence(rnd.Intn(20)+5) + "</p>",
	}
	if rnd.Intn(10) == 0 {
		in.Audience = models.AudienceFollowersOnly
	}
	if rnd.Intn(5) == 0 {
		in.Type = models.PostTypeArticle
		in.Title = gofakeit.Sentence(5)
		in.Excerpt = gofakeit.Sentence(12)
		var sb strings.Builder
		for i := 0; i < 3; i++ {
			sb.WriteString("<p>" + gofakeit.Paragraph(1, 4, 12, " ") + "</p>")
		}
		in.Content = sb.String()
		if author.Internal {
			in.URL = author.URL + gofakeit.UUID() + "/"
		}
	}
	return in
}
