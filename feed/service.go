// Package feed serves the ranked set as stable, cursor-paginated feed pages.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/bluesky-social/agora/scoring"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("feed")

var (
	ErrUnsupportedAlgorithm = errors.New("unsupported feed")
	ErrInvalidLimit         = errors.New("limit must be between 1 and 100")
	ErrInvalidPin           = errors.New("pinned post must be an at:// uri")
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

type Config struct {
	// at:// uri of the feed generator record this service answers for
	FeedURI string

	SnapshotTTL  time.Duration
	MaxSnapshot  int
	MaxSnapshots int
}

func DefaultConfig() *Config {
	return &Config{
		SnapshotTTL:  10 * time.Minute,
		MaxSnapshot:  1000,
		MaxSnapshots: 4096,
	}
}

type SkeletonItem struct {
	Post string `json:"post"`
}

type Skeleton struct {
	Cursor *string        `json:"cursor,omitempty"`
	Feed   []SkeletonItem `json:"feed"`
}

type Service struct {
	ranks     scoring.RankStore
	snapshots SnapshotStore
	pins      PinStore
	config    Config
	logger    *slog.Logger
}

func NewService(ranks scoring.RankStore, snapshots SnapshotStore, pins PinStore, config *Config, logger *slog.Logger) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default().With("system", "feed")
	}
	if snapshots == nil {
		snapshots = NewMemSnapshotStore(config.MaxSnapshots, config.SnapshotTTL)
	}
	if pins == nil {
		pins = NewMemPinStore()
	}
	return &Service{ranks: ranks, snapshots: snapshots, pins: pins, config: *config, logger: logger}
}

func (s *Service) FeedURI() string {
	return s.config.FeedURI
}

func page(uris []string) *Skeleton {
	items := make([]SkeletonItem, len(uris))
	for i, u := range uris {
		items[i] = SkeletonItem{Post: u}
	}
	return &Skeleton{Feed: items}
}

// GetFeedSkeleton returns one page of the feed. Without a cursor a new
// snapshot of the current ranking is taken; with one, the same snapshot is
// paged through. Storage failures produce an empty page rather than an error.
func (s *Service) GetFeedSkeleton(ctx context.Context, feed, cursor string, limit int) (*Skeleton, error) {
	ctx, span := tracer.Start(ctx, "GetFeedSkeleton")
	defer span.End()

	if s.config.FeedURI == "" || feed != s.config.FeedURI {
		return nil, ErrUnsupportedAlgorithm
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return nil, ErrInvalidLimit
	}
	span.SetAttributes(attribute.Int("limit", limit), attribute.Bool("has_cursor", cursor != ""))

	if cursor == "" {
		return s.firstPage(ctx, limit), nil
	}
	id, offset, err := DecodeCursor(cursor)
	if err != nil {
		skeletonRequests.WithLabelValues("next", "bad_cursor").Inc()
		return nil, err
	}
	return s.nextPage(ctx, id, offset, limit), nil
}

func (s *Service) firstPage(ctx context.Context, limit int) *Skeleton {
	set, err := s.ranks.Load(ctx, s.config.MaxSnapshot)
	if err != nil {
		if !errors.Is(err, scoring.ErrNoRanking) {
			s.logger.Error("failed to load ranked set", "err", err)
			skeletonRequests.WithLabelValues("first", "error").Inc()
		} else {
			skeletonRequests.WithLabelValues("first", "empty").Inc()
		}
		return page(nil)
	}

	pin, err := s.pins.Get(ctx)
	if err != nil {
		s.logger.Warn("failed to load pinned post", "err", err)
		pin = ""
	}
	body := set.URIs
	if pin != "" {
		body = slices.DeleteFunc(slices.Clone(body), func(u string) bool { return u == pin })
	}

	n := limit
	var head []string
	if pin != "" {
		head = append(head, pin)
		n--
	}
	n = min(n, len(body))
	out := page(append(head, body[:n]...))
	if n < len(body) {
		id, err := s.snapshots.Create(ctx, body)
		if err != nil {
			s.logger.Error("failed to store feed snapshot", "err", err)
			skeletonRequests.WithLabelValues("first", "error").Inc()
			return out
		}
		c := EncodeCursor(id, n)
		out.Cursor = &c
	}
	skeletonRequests.WithLabelValues("first", "ok").Inc()
	return out
}

func (s *Service) nextPage(ctx context.Context, id string, offset, limit int) *Skeleton {
	uris, total, found, err := s.snapshots.Page(ctx, id, offset, limit)
	if err != nil {
		s.logger.Error("failed to read feed snapshot", "err", err, "snapshot", id)
		skeletonRequests.WithLabelValues("next", "error").Inc()
		return page(nil)
	}
	if !found {
		skeletonRequests.WithLabelValues("next", "expired").Inc()
		return page(nil)
	}
	out := page(uris)
	if next := offset + len(uris); len(uris) > 0 && next < total {
		c := EncodeCursor(id, next)
		out.Cursor = &c
	}
	skeletonRequests.WithLabelValues("next", "ok").Inc()
	return out
}

func (s *Service) Pin(ctx context.Context, uri string) error {
	if !strings.HasPrefix(uri, "at://") {
		return ErrInvalidPin
	}
	return s.pins.Set(ctx, uri)
}

func (s *Service) Unpin(ctx context.Context) error {
	return s.pins.Clear(ctx)
}

// Pinned returns the pinned uri, or "".
func (s *Service) Pinned(ctx context.Context) (string, error) {
	return s.pins.Get(ctx)
}
