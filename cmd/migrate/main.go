package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/noretmy/escrow-backend/pkg/app"
	"github.com/noretmy/escrow-backend/pkg/db"
	"github.com/noretmy/escrow-backend/pkg/migrate"
)

type options struct {
	dir     string
	name    string
	version string
}

type command struct {
	offline func(opts options) error
	online  func(ctx context.Context, sqlDB *sql.DB, opts options) error
}

var commands = map[string]command{
	"create": {offline: func(opts options) error {
		if opts.name == "" {
			return errors.New("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	}},
	"validate": {offline: func(opts options) error {
		if err := migrate.ValidateDir(opts.dir); err != nil {
			return err
		}
		fmt.Println("migration validation passed")
		return nil
	}},
	"up":     {online: gooseCommand("up")},
	"down":   {online: gooseCommand("down")},
	"status": {online: gooseCommand("status")},
	"version": {online: func(ctx context.Context, sqlDB *sql.DB, opts options) error {
		if opts.version == "" {
			return errors.New("missing -version for version command")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, opts.dir, opts.version)
	}},
}

func gooseCommand(name string) func(context.Context, *sql.DB, options) error {
	return func(ctx context.Context, sqlDB *sql.DB, opts options) error {
		return migrate.Run(ctx, sqlDB, opts.dir, name)
	}
}

func main() {
	cmdName := flag.String("cmd", "up", "migration command: "+commandNames())
	var opts options
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	cmd, ok := commands[*cmdName]
	if !ok {
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmdName)
		os.Exit(1)
	}

	proc := app.Start("migrate")
	ctx := proc.Logger.WithFields(context.Background(), map[string]any{
		"env": proc.Config.App.Env,
		"cmd": *cmdName,
		"dir": opts.dir,
	})

	if cmd.offline != nil {
		proc.Must(ctx, *cmdName+" migrations", cmd.offline(opts))
		return
	}

	dbClient, err := db.New(ctx, proc.Config.DB, proc.Logger)
	proc.Must(ctx, "connect to database", err)
	proc.OnClose("database", dbClient.Close)

	sqlDB, err := dbClient.DB().DB()
	proc.Must(ctx, "open sql handle", err)

	proc.Must(ctx, "goose "+*cmdName, cmd.online(ctx, sqlDB, opts))
	proc.Close(ctx)
}

func commandNames() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	return strings.Join(names, "|")
}
