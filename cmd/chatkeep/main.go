// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"log"
	"os"

	"github.com/poiesic/chatkeep/config"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatal(err)
	}

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	defaults := config.Default()
	return &cli.App{
		Name:  "chatkeep",
		Usage: "Chat room and message store with long-pause analytics",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   defaults.LogLevel,
				EnvVars: []string{config.EnvLogLevel},
			},
			&cli.StringFlag{
				Name:    "backend",
				Aliases: []string{"b"},
				Usage:   "Storage backend (badger, redis)",
				Value:   defaults.Backend,
				EnvVars: []string{config.EnvBackend},
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory",
				Value:   defaults.DataDir,
				EnvVars: []string{config.EnvDataDir},
			},
			&cli.BoolFlag{
				Name:    "in-memory",
				Usage:   "Keep the BadgerDB database in memory only",
				EnvVars: []string{config.EnvInMemory},
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL (redis://host:port/db)",
				EnvVars: []string{config.EnvRedisURL},
			},
			&cli.StringFlag{
				Name:    "redis-prefix",
				Usage:   "Prefix for all Redis keys",
				Value:   defaults.RedisPrefix,
				EnvVars: []string{config.EnvRedisPrefix},
			},
			&cli.StringFlag{
				Name:    "room-table",
				Usage:   "Name of the room table",
				Value:   defaults.RoomTable,
				EnvVars: []string{config.EnvRoomTable},
			},
			&cli.StringFlag{
				Name:    "message-table",
				Usage:   "Name of the message table",
				Value:   defaults.MessageTable,
				EnvVars: []string{config.EnvMessageTable},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			serveCommand(defaults),
			createRoomCommand(),
			roomCommand(),
			addMessagesCommand(),
			messagesCommand(),
			longPausesCommand(),
			pausesCommand(),
			importCommand(),
			seedCommand(),
		},
	}
}
