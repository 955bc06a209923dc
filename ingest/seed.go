package ingest

import (
	"fmt"
	"iter"
	"math/rand"

	"github.com/google/uuid"
	"github.com/poiesic/chatkeep/core"
)

var lines = []string{
	"morning all",
	"did the deploy go out?",
	"yes, about ten minutes ago",
	"seeing a spike in latency on the eu cluster",
	"looking now",
	"rolled back, should settle in a minute",
	"thanks!",
	"lunch?",
	"can someone review my PR when you get a chance",
	"approved, one nit about naming",
	"the dashboard is loading slowly again",
	"cache was cold after the restart",
	"who owns the billing service these days?",
	"ping me if the alert fires again",
	"heading out, back tomorrow",
	"standup moved to 10:30",
	"is the staging database being reset tonight?",
	"only the analytics schema",
	"great, that works",
	"ok",
}

// SeedConfig controls synthetic data generation.
type SeedConfig struct {
	Rooms           int
	FirstRoomID     core.RoomID
	Participants    int
	MessagesPerRoom int
	BatchSize       int
	Start           int64 // Unix millis of the first room's creation
	MeanGap         int64 // mean millis between messages
	Seed            int64
}

// DefaultSeedConfig returns a small data set suitable for local testing.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		Rooms:           10,
		FirstRoomID:     1,
		Participants:    4,
		MessagesPerRoom: 500,
		BatchSize:       25,
		Start:           1578283920000,
		MeanGap:         30_000,
		Seed:            1,
	}
}

// Seeder generates rooms and message batches with random names, authors and
// exponentially distributed gaps, the shape that makes long pauses rare.
type Seeder struct {
	cfg SeedConfig
	rng *rand.Rand
}

// NewSeeder creates a seeder. Output is deterministic for a given config,
// apart from the uuid-based names and participants.
func NewSeeder(cfg SeedConfig) *Seeder {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.Participants < 1 {
		cfg.Participants = 1
	}
	if cfg.MeanGap < 1 {
		cfg.MeanGap = 1
	}
	return &Seeder{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// Rooms returns the rooms to create.
func (s *Seeder) Rooms() []*core.Room {
	rooms := make([]*core.Room, 0, s.cfg.Rooms)
	for i := range s.cfg.Rooms {
		participants := make([]string, s.cfg.Participants)
		for j := range participants {
			participants[j] = fmt.Sprintf("user-%s@example.com", uuid.NewString()[:8])
		}
		rooms = append(rooms, &core.Room{
			ID:           s.cfg.FirstRoomID + core.RoomID(i),
			Name:         "room-" + uuid.NewString(),
			Created:      s.cfg.Start + int64(i)*1000,
			Participants: participants,
		})
	}
	return rooms
}

// Batches yields the messages of every room in batches of BatchSize, with
// strictly increasing timestamps and indexes starting at 1 per room.
func (s *Seeder) Batches(rooms []*core.Room) iter.Seq[core.MessageBatch] {
	return func(yield func(core.MessageBatch) bool) {
		for _, room := range rooms {
			ts := room.Created
			batch := core.MessageBatch{ChatRoomID: room.ID}
			for i := 1; i <= s.cfg.MessagesPerRoom; i++ {
				ts += 1 + int64(s.rng.ExpFloat64()*float64(s.cfg.MeanGap))
				batch.Messages = append(batch.Messages, core.Message{
					Index:     int64(i),
					Timestamp: ts,
					Author:    room.Participants[s.rng.Intn(len(room.Participants))],
					Text:      lines[s.rng.Intn(len(lines))],
				})
				if len(batch.Messages) == s.cfg.BatchSize {
					if !yield(batch) {
						return
					}
					batch = core.MessageBatch{ChatRoomID: room.ID}
				}
			}
			if len(batch.Messages) > 0 {
				if !yield(batch) {
					return
				}
			}
		}
	}
}
