package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/chatkeep"
	"github.com/poiesic/chatkeep/api"
	"github.com/poiesic/chatkeep/config"
	"github.com/poiesic/chatkeep/core"
	"github.com/poiesic/chatkeep/ingest"
	"github.com/urfave/cli/v2"
)

var windowFlags = []cli.Flag{
	&cli.Int64Flag{
		Name:     "room",
		Aliases:  []string{"r"},
		Usage:    "Room ID",
		Required: true,
	},
	&cli.Int64Flag{
		Name:     "start",
		Usage:    "Window start, Unix millis (inclusive)",
		Required: true,
	},
	&cli.Int64Flag{
		Name:     "end",
		Usage:    "Window end, Unix millis (exclusive)",
		Required: true,
	},
}

func serveCommand(defaults *config.Config) *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Serve the chat store over HTTP",
		Action: serveAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Listen address",
				Value:   defaults.ListenAddr,
				EnvVars: []string{config.EnvListenAddr},
			},
			&cli.StringFlag{
				Name:    "cors-origins",
				Usage:   "Comma-separated list of allowed CORS origins",
				Value:   strings.Join(defaults.CORSOrigins, ","),
				EnvVars: []string{config.EnvCORSOrigins},
			},
			&cli.DurationFlag{
				Name:  "shutdown-timeout",
				Usage: "Time allowed for in-flight requests on shutdown",
				Value: 10 * time.Second,
			},
		},
	}
}

func createRoomCommand() *cli.Command {
	return &cli.Command{
		Name:   "create-room",
		Usage:  "Create or replace a room",
		Action: createRoomAction,
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:     "id",
				Usage:    "Room ID",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "name",
				Usage:    "Room name",
				Required: true,
			},
			&cli.Int64Flag{
				Name:  "created",
				Usage: "Creation time, Unix millis (defaults to now)",
			},
			&cli.StringSliceFlag{
				Name:    "participant",
				Aliases: []string{"p"},
				Usage:   "Participant, may be repeated",
			},
		},
	}
}

func roomCommand() *cli.Command {
	return &cli.Command{
		Name:   "room",
		Usage:  "Print a room with its meta",
		Action: roomAction,
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:     "id",
				Usage:    "Room ID",
				Required: true,
			},
		},
	}
}

func addMessagesCommand() *cli.Command {
	return &cli.Command{
		Name:      "add-messages",
		Usage:     "Add a JSON batch ({\"chatRoomId\":..,\"messages\":[..]}) read from a file or stdin",
		ArgsUsage: "[FILE]",
		Action:    addMessagesAction,
	}
}

func messagesCommand() *cli.Command {
	return &cli.Command{
		Name:   "messages",
		Usage:  "Print the messages of a room in a time window",
		Action: messagesAction,
		Flags:  windowFlags,
	}
}

func longPausesCommand() *cli.Command {
	return &cli.Command{
		Name:   "long-pauses",
		Usage:  "Count the pauses in a window longer than the room's average",
		Action: longPausesAction,
		Flags:  windowFlags,
	}
}

func pausesCommand() *cli.Command {
	return &cli.Command{
		Name:   "pauses",
		Usage:  "Print the average pause and the gaps of a window",
		Action: pausesAction,
		Flags:  windowFlags,
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import message batches from a JSON-lines file",
		ArgsUsage: "FILE",
		Action:    importAction,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Number of concurrent writers",
				Value: 8,
			},
			&cli.IntFlag{
				Name:  "report-interval",
				Usage: "Report progress every N messages",
				Value: 1000,
			},
			&cli.IntFlag{
				Name:  "max-retries",
				Usage: "Maximum attempts per batch on storage errors",
				Value: 3,
			},
			&cli.DurationFlag{
				Name:  "retry-delay",
				Usage: "Base delay for exponential backoff",
				Value: 100 * time.Millisecond,
			},
		},
	}
}

func seedCommand() *cli.Command {
	seed := ingest.DefaultSeedConfig()
	return &cli.Command{
		Name:   "seed",
		Usage:  "Generate synthetic rooms and messages",
		Action: seedAction,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "rooms",
				Usage: "Number of rooms",
				Value: seed.Rooms,
			},
			&cli.Int64Flag{
				Name:  "first-room",
				Usage: "ID of the first generated room",
				Value: int64(seed.FirstRoomID),
			},
			&cli.IntFlag{
				Name:  "participants",
				Usage: "Participants per room",
				Value: seed.Participants,
			},
			&cli.IntFlag{
				Name:  "messages",
				Usage: "Messages per room",
				Value: seed.MessagesPerRoom,
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Messages per batch",
				Value: seed.BatchSize,
			},
			&cli.DurationFlag{
				Name:  "mean-gap",
				Usage: "Mean time between messages",
				Value: time.Duration(seed.MeanGap) * time.Millisecond,
			},
			&cli.Int64Flag{
				Name:  "seed",
				Usage: "Random seed",
				Value: seed.Seed,
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Write batches as JSON lines to this file instead of storing them",
			},
		},
	}
}

// configFromFlags builds the store configuration from the global flags.
func configFromFlags(c *cli.Context) *config.Config {
	cfg := config.Default()
	cfg.Backend = c.String("backend")
	cfg.DataDir = c.String("db")
	cfg.InMemory = c.Bool("in-memory")
	cfg.RedisURL = c.String("redis-url")
	cfg.RedisPrefix = c.String("redis-prefix")
	cfg.RoomTable = c.String("room-table")
	cfg.MessageTable = c.String("message-table")
	cfg.LogLevel = strings.ToLower(c.String("log-level"))
	if c.IsSet("addr") {
		cfg.ListenAddr = c.String("addr")
	}
	if c.IsSet("cors-origins") {
		cfg.CORSOrigins = config.SplitList(c.String("cors-origins"))
	}
	return cfg
}

func openDatabase(c *cli.Context) (*chatkeep.Database, error) {
	db, err := chatkeep.NewDatabase(c.Context, configFromFlags(c), chatkeep.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveAction(c *cli.Context) error {
	cfg := configFromFlags(c)
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	server := api.NewServer(db.ChatRepository(), db,
		api.WithLogger(slog.Default()),
		api.WithAddr(cfg.ListenAddr),
		api.WithAllowedOrigins(cfg.CORSOrigins),
	)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.Duration("shutdown-timeout"))
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func createRoomAction(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	created := c.Int64("created")
	if !c.IsSet("created") {
		created = time.Now().UnixMilli()
	}
	room := &core.Room{
		ID:           core.RoomID(c.Int64("id")),
		Name:         c.String("name"),
		Created:      created,
		Participants: c.StringSlice("participant"),
	}
	if err := db.ChatRepository().CreateRoom(c.Context, room); err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "created room %d\n", room.ID)
	return nil
}

func roomAction(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	id := core.RoomID(c.Int64("id"))
	room, err := db.ChatRepository().GetRoom(c.Context, id)
	if err != nil {
		return fmt.Errorf("failed to get room: %w", err)
	}
	if room == nil {
		return cli.Exit(fmt.Sprintf("room %d not found", id), 1)
	}
	return printJSON(c.App.Writer, room)
}

func addMessagesAction(c *cli.Context) error {
	var in io.Reader = os.Stdin
	if path := c.Args().First(); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open batch: %w", err)
		}
		defer f.Close()
		in = f
	}

	var batch core.MessageBatch
	if err := json.NewDecoder(in).Decode(&batch); err != nil {
		return fmt.Errorf("failed to decode batch: %w", err)
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.ChatRepository().AddMessages(c.Context, batch.ChatRoomID, batch.Messages); err != nil {
		return fmt.Errorf("failed to add messages: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "added %d messages to room %d\n", len(batch.Messages), batch.ChatRoomID)
	return nil
}

func messagesAction(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	messages, err := db.ChatRepository().GetMessages(c.Context,
		core.RoomID(c.Int64("room")), c.Int64("start"), c.Int64("end"))
	if err != nil {
		return fmt.Errorf("failed to get messages: %w", err)
	}
	for _, msg := range messages {
		fmt.Fprintln(c.App.Writer, msg.String())
	}
	return nil
}

func longPausesAction(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.ChatRepository().CountLongPauses(c.Context,
		core.RoomID(c.Int64("room")), c.Int64("start"), c.Int64("end"))
	if err != nil {
		return fmt.Errorf("failed to count long pauses: %w", err)
	}
	fmt.Fprintln(c.App.Writer, n)
	return nil
}

func pausesAction(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.ChatRepository().Pauses(c.Context,
		core.RoomID(c.Int64("room")), c.Int64("start"), c.Int64("end"))
	if err != nil {
		return fmt.Errorf("failed to compute pauses: %w", err)
	}
	return printJSON(c.App.Writer, stats)
}

func importAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("input file is required")
	}
	if c.Int("workers") <= 0 {
		return fmt.Errorf("workers must be greater than 0")
	}
	if c.Int("report-interval") <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if c.Int("max-retries") <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	importer, err := db.NewImporter(
		ingest.WithPoolSize(c.Int("workers")),
		ingest.WithRetry(c.Int("max-retries"), c.Duration("retry-delay")),
		ingest.WithProgress(c.App.ErrWriter, c.Int("report-interval")),
		ingest.WithLogger(slog.Default()),
	)
	if err != nil {
		return fmt.Errorf("failed to create importer: %w", err)
	}
	defer importer.Release()

	fmt.Fprintf(c.App.ErrWriter, "Input: %s\n", path)
	fmt.Fprintf(c.App.ErrWriter, "Backend: %s\n", c.String("backend"))
	fmt.Fprintln(c.App.ErrWriter)

	result, err := importer.ImportFile(c.Context, path)
	if result != nil {
		fmt.Fprintf(c.App.Writer, "imported %d batches (%d messages), %d failed, in %s\n",
			result.Batches, result.Messages, result.FailedBatches, result.Elapsed.Round(time.Millisecond))
	}
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	return nil
}

func seedAction(c *cli.Context) error {
	cfg := ingest.SeedConfig{
		Rooms:           c.Int("rooms"),
		FirstRoomID:     core.RoomID(c.Int64("first-room")),
		Participants:    c.Int("participants"),
		MessagesPerRoom: c.Int("messages"),
		BatchSize:       c.Int("batch-size"),
		Start:           ingest.DefaultSeedConfig().Start,
		MeanGap:         c.Duration("mean-gap").Milliseconds(),
		Seed:            c.Int64("seed"),
	}
	if cfg.Rooms <= 0 || cfg.MessagesPerRoom <= 0 || cfg.BatchSize <= 0 {
		return fmt.Errorf("rooms, messages and batch-size must be greater than 0")
	}
	if cfg.MeanGap <= 0 {
		return fmt.Errorf("mean-gap must be at least 1ms")
	}

	seeder := ingest.NewSeeder(cfg)
	rooms := seeder.Rooms()

	if out := c.String("out"); out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		if err := ingest.WriteBatches(f, seeder.Batches(rooms)); err != nil {
			return fmt.Errorf("failed to write batches: %w", err)
		}
		fmt.Fprintf(c.App.Writer, "wrote %d rooms of batches to %s\n", len(rooms), out)
		return nil
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, room := range rooms {
		if err := db.ChatRepository().CreateRoom(c.Context, room); err != nil {
			return fmt.Errorf("failed to create room %d: %w", room.ID, err)
		}
	}

	var batches []core.MessageBatch
	for batch := range seeder.Batches(rooms) {
		batches = append(batches, batch)
	}

	importer, err := db.NewImporter(
		ingest.WithProgress(c.App.ErrWriter, cfg.BatchSize*10),
		ingest.WithLogger(slog.Default()),
	)
	if err != nil {
		return fmt.Errorf("failed to create importer: %w", err)
	}
	defer importer.Release()

	result, err := importer.Import(c.Context, batches)
	if err != nil {
		return fmt.Errorf("seeding failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "seeded %d rooms with %d messages\n", len(rooms), result.Messages)
	return nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	errWriter := c.App.ErrWriter
	if errWriter == nil {
		errWriter = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(errWriter, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
