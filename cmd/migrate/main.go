package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"logbook.org/internal/migrate"
	"logbook.org/internal/obs"
	"logbook.org/ops/migrations"
)

func main() {
	log := obs.InitLogger(os.Getenv("LOGBOOK_LOG_LEVEL"), os.Stderr)
	var (
		dsn     = flag.String("dsn", os.Getenv("LOGBOOK_PG_DSN"), "PostgreSQL DSN")
		dir     = flag.String("dir", "", "Read migrations from this directory instead of the embedded set (expects sql/ and seeds/)")
		timeout = flag.Duration("timeout", 60*time.Second, "Overall deadline")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal().Msg("missing DSN: provide via -dsn or LOGBOOK_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal().Msg("usage: migrate [up|down|seed|status]")
	}

	var src fs.FS = migrations.FS
	if *dir != "" {
		src = os.DirFS(*dir)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	mgr := migrate.NewManager(db, src, migrations.SQLDir, migrations.SeedsDir)

	var names []string
	switch cmd := flag.Arg(0); cmd {
	case "up":
		names, err = mgr.Up(ctx)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if name != "" {
			names = []string{name}
		}
	case "seed":
		names, err = mgr.Seed(ctx)
	case "status":
		names, err = mgr.Status(ctx)
	default:
		log.Fatal().Str("command", cmd).Msg("unknown command")
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", flag.Arg(0)).Msg("migrate failed")
	}
	for _, n := range names {
		fmt.Println(n)
	}
	if len(names) == 0 && flag.Arg(0) != "status" {
		log.Info().Str("command", flag.Arg(0)).Msg("nothing to do")
	}
}
