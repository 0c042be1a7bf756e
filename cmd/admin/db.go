package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"farmersfright.gg/internal/persistence/indexdb"
)

// dbCmd queries the match index: matches (default), players or actions.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	matchID := fs.String("match", "", "match id (players, actions)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "matches"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "matches.sqlite")
	}
	r, err := indexdb.OpenReader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer r.Close()
	ctx := context.Background()

	switch q {
	case "matches":
		if *limit <= 0 {
			*limit = 20
		}
		rows, err := r.RecentMatches(ctx, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, row := range rows {
			printJSON(row)
		}

	case "players", "actions":
		id := strings.TrimSpace(*matchID)
		if id == "" {
			latest, err := r.RecentMatches(ctx, 1)
			if err != nil {
				fmt.Fprintln(os.Stderr, "query:", err)
				os.Exit(1)
			}
			if len(latest) == 0 {
				fmt.Fprintln(os.Stderr, "no matches found")
				os.Exit(2)
			}
			id = latest[0].ID
		}
		if q == "players" {
			rows, err := r.MatchPlayers(ctx, id)
			if err != nil {
				fmt.Fprintln(os.Stderr, "query:", err)
				os.Exit(1)
			}
			for _, row := range rows {
				printJSON(struct {
					MatchID string `json:"match_id"`
					indexdb.PlayerRow
				}{id, row})
			}
			return
		}
		rows, err := r.MatchActions(ctx, id)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, row := range rows {
			printJSON(struct {
				MatchID string `json:"match_id"`
				indexdb.ActionRow
			}{id, row})
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown query %q (matches, players, actions)\n", q)
		os.Exit(2)
	}
}
