package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/advocacyflow/server/internal/model"
)

// ErrPostNotFound is returned when no post has the requested id
var ErrPostNotFound = errors.New("post not found")

// Repo is the durable post store
type Repo interface {
	List(ctx context.Context) ([]model.Post, error)
	Get(ctx context.Context, id string) (model.Post, error)
	InsertMany(ctx context.Context, posts []model.Post) error
}

// Source serves posts from the repo, falling back to a fixed local list when the
// repo is unavailable. An empty repo is seeded with the fallback list once.
type Source struct {
	repo     Repo
	logger   *zap.Logger
	fallback []model.Post
}

// NewSource creates a post source over repo
func NewSource(repo Repo, logger *zap.Logger) *Source {
	return &Source{
		repo:     repo,
		logger:   logger,
		fallback: FallbackPosts(time.Now().UTC()),
	}
}

// List returns all posts, newest first
func (s *Source) List(ctx context.Context) []model.Post {
	posts, err := s.repo.List(ctx)
	if err != nil {
		s.logger.Warn("post store unavailable, serving fallback posts", zap.Error(err))
		return s.fallbackCopy()
	}
	if len(posts) > 0 {
		return posts
	}

	if err := s.repo.InsertMany(ctx, s.fallback); err != nil {
		s.logger.Warn("seed fallback posts", zap.Error(err))
	} else {
		s.logger.Info("seeded fallback posts", zap.Int("count", len(s.fallback)))
	}
	return s.fallbackCopy()
}

// Get resolves one post by id
func (s *Source) Get(ctx context.Context, id string) (model.Post, error) {
	post, err := s.repo.Get(ctx, id)
	if err == nil {
		return post, nil
	}
	if !errors.Is(err, ErrPostNotFound) {
		s.logger.Warn("post lookup failed, trying fallback posts", zap.String("post_id", id), zap.Error(err))
	}
	for _, p := range s.fallback {
		if p.ID == id {
			return p, nil
		}
	}
	return model.Post{}, fmt.Errorf("%w: %s", ErrPostNotFound, id)
}

func (s *Source) fallbackCopy() []model.Post {
	return append([]model.Post(nil), s.fallback...)
}

var fallbackNamespace = uuid.MustParse("6f1c8d0e-3a51-4b8e-9d0f-2c7a5e4b1f90")

// FallbackPosts returns the fixed local post list. Ids are stable across restarts.
func FallbackPosts(now time.Time) []model.Post {
	posts := []model.Post{
		{
			Title:    "We're Hiring: Senior Full-Stack Developer",
			Content:  "Join our growing engineering team! We're looking for talented developers passionate about building scalable solutions. Remote-friendly, competitive salary, and amazing team culture. Apply now!",
			Category: model.CategoryJobPosting,
			LinkURL:  "https://socialripple.com/careers/senior-fullstack",
			ImageURL: "https://images.unsplash.com/photo-1758691736933-bb0f88fe2e0c?crop=entropy&cs=srgb&fm=jpg&q=85",
		},
		{
			Title:    "Product Launch: New AI-Powered Analytics Dashboard",
			Content:  "We are excited to announce several major product enhancements to the SocialRipple platform that are designed to streamline workflows and boost end-user productivity. Check out the new features and share with your network!",
			Category: model.CategoryProductUpdate,
			LinkURL:  "https://pls.sh/s/15a95251a2",
			ImageURL: "https://images.unsplash.com/photo-1582192904915-d89c7250b235?crop=entropy&cs=srgb&fm=jpg&q=85",
		},
		{
			Title:    "Team Milestone: 50,000 Employees Empowered!",
			Content:  "Incredible achievement! We've just helped our 50,000th employee become a brand advocate through our platform. Thank you to our amazing community for making this possible. Let's celebrate together!",
			Category: model.CategoryCompanyEvent,
			LinkURL:  "https://socialripple.com/milestones",
		},
	}
	for i := range posts {
		posts[i].ID = uuid.NewSHA1(fallbackNamespace, []byte(posts[i].Title)).String()
		posts[i].Timestamp = now.Add(-time.Duration(i) * time.Hour)
	}
	return posts
}
