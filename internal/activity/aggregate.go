package activity

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fieldservice/pkg/db"
	"fieldservice/pkg/log"
)

// Entry is the common shape every feed source is normalized into.
type Entry struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Timestamp   time.Time       `json:"timestamp"`
	Actor       string          `json:"actor"`
	Source      string          `json:"source"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Source is one independently fetched collection.
type Source struct {
	Name  string
	Fetch func(ctx context.Context) ([]Entry, error)
}

type Aggregator struct {
	Logger *slog.Logger
}

// Aggregate fetches every source concurrently and merges the results,
// newest first. A source that fails contributes nothing; the rest of the
// feed is still returned. Entries with equal timestamps keep the order of
// sources as passed, then the order within each source.
func (a Aggregator) Aggregate(ctx context.Context, sources ...Source) []Entry {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	results := make([][]Entry, len(sources))
	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			entries, err := src.Fetch(ctx)
			if err != nil {
				logger.WarnContext(ctx, "activity source failed", log.Source(src.Name), log.Error(err))
				return nil
			}
			for j := range entries {
				if entries[j].Source == "" {
					entries[j].Source = src.Name
				}
			}
			results[i] = entries
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Entry, 0)
	for _, r := range results {
		out = append(out, r...)
	}
	Sort(out)
	return out
}

// Sort orders entries by timestamp descending, stable on ties.
func Sort(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
}

func FromLogs(logs []Log) []Entry {
	out := make([]Entry, 0, len(logs))
	for _, l := range logs {
		out = append(out, Entry{
			ID:          l.ID,
			Type:        l.EventType,
			Description: l.Description,
			Timestamp:   l.OccurredAt,
			Actor:       l.Actor,
			Data:        l.Data,
		})
	}
	return out
}

// LogSource reads the persisted activity log of one entity.
func LogSource(q db.Querier, entityType, entityID string) Source {
	return Source{
		Name: "logs",
		Fetch: func(ctx context.Context) ([]Entry, error) {
			logs, err := ListByEntity(ctx, q, entityType, entityID)
			if err != nil {
				return nil, err
			}
			return FromLogs(logs), nil
		},
	}
}

// Created synthesizes the creation event of an entity. Its ID is derived
// from the entity so repeated reads yield the same entry.
func Created(entityType, entityID string, createdAt time.Time, actor string) Entry {
	return Entry{
		ID:          uuid.NewSHA1(uuid.NameSpaceURL, []byte(entityType+"/"+entityID+"#created")).String(),
		Type:        EventCreated,
		Description: entityType + " created",
		Timestamp:   createdAt,
		Actor:       actor,
	}
}

func CreatedSource(entityType, entityID string, createdAt time.Time, actor string) Source {
	return Source{
		Name: "created",
		Fetch: func(context.Context) ([]Entry, error) {
			return []Entry{Created(entityType, entityID, createdAt, actor)}, nil
		},
	}
}
