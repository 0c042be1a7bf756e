package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	persistlog "farmersfright.gg/internal/persistence/log"
	"farmersfright.gg/internal/persistence/snapshot"
	"farmersfright.gg/internal/session"
)

func main() {
	var (
		snapPath  = flag.String("snapshot", "", "path to .snap.zst (optional)")
		eventsDir = flag.String("events", "", "events dir containing events-*.jsonl.zst (optional)")
		matchID   = flag.String("match", "", "only this match id")
		verbose   = flag.Bool("v", false, "print every event")
	)
	flag.Parse()

	if *snapPath == "" && *eventsDir == "" {
		fmt.Fprintln(os.Stderr, "need -snapshot and/or -events")
		os.Exit(2)
	}

	if *snapPath != "" {
		if err := printSnapshot(*snapPath); err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
	}
	if *eventsDir == "" {
		return
	}

	files, err := persistlog.Files(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no event files in", *eventsDir)
		os.Exit(1)
	}

	r := newReplay()
	for _, f := range files {
		err := persistlog.ReadEvents(f, func(e session.MatchEvent) error {
			if *matchID != "" && e.MatchID != *matchID {
				return nil
			}
			if *verbose {
				printEvent(e)
			}
			r.apply(e)
			return nil
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", f, err)
			os.Exit(1)
		}
	}
	r.print()
}

func printSnapshot(path string) error {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return err
	}
	match := snap.Header.MatchID
	if match == "" {
		match = "-"
	}
	fmt.Printf("snapshot v%d match=%s tick=%d created=%s running=%v game_time_ms=%d objects=%d players=%d seats=%d connections=%d\n",
		snap.Header.Version, match, snap.Header.Tick, time.UnixMilli(snap.Header.CreatedAt).UTC().Format(time.RFC3339),
		snap.Running, snap.GameTime, len(snap.Objects), len(snap.Players), len(snap.Seats), snap.Connections)

	ids := make([]int, 0, len(snap.Players))
	for id := range snap.Players {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		p := snap.Players[id]
		owned := 0
		for _, o := range snap.Objects {
			if o.Owner == id {
				owned++
			}
		}
		fmt.Printf("  player %d team=%d resources=%d supply=%d/%d objects=%d upgrades=%v\n",
			id, p.Team, p.Resources, p.CurrentSupply, p.SupplyCap, owned, p.Upgrades)
	}
	return nil
}

func printEvent(e session.MatchEvent) {
	fmt.Printf("%s %s tick=%d %s", e.Time.UTC().Format(time.RFC3339Nano), e.MatchID, e.Tick, e.Kind)
	if e.PlayerID != 0 {
		fmt.Printf(" player=%d", e.PlayerID)
	}
	if e.Action != "" {
		fmt.Printf(" action=%s", e.Action)
	}
	if e.Removed != 0 {
		fmt.Printf(" removed=%d", e.Removed)
	}
	if e.Reason != "" {
		fmt.Printf(" reason=%s", e.Reason)
	}
	fmt.Println()
}

// matchSummary is what the event stream says about one match.
type matchSummary struct {
	id      string
	started time.Time
	ended   time.Time
	reason  string
	seats   []session.Seat
	joins   int
	leaves  int
	actions map[int]map[string]int
}

type replay struct {
	order   []string
	matches map[string]*matchSummary
}

func newReplay() *replay {
	return &replay{matches: map[string]*matchSummary{}}
}

func (r *replay) get(id string) *matchSummary {
	m, ok := r.matches[id]
	if !ok {
		m = &matchSummary{id: id, actions: map[int]map[string]int{}}
		r.matches[id] = m
		r.order = append(r.order, id)
	}
	return m
}

func (r *replay) apply(e session.MatchEvent) {
	m := r.get(e.MatchID)
	switch e.Kind {
	case session.EventStart:
		m.started = e.Time
		m.seats = e.Seats
	case session.EventJoin:
		m.joins++
	case session.EventLeave:
		m.leaves++
	case session.EventAction:
		byType := m.actions[e.PlayerID]
		if byType == nil {
			byType = map[string]int{}
			m.actions[e.PlayerID] = byType
		}
		byType[e.Action]++
	case session.EventEnd:
		m.ended = e.Time
		m.reason = e.Reason
	}
}

func (r *replay) print() {
	for _, id := range r.order {
		m := r.matches[id]
		dur := "running"
		if !m.ended.IsZero() && !m.started.IsZero() {
			dur = m.ended.Sub(m.started).Round(time.Millisecond).String()
		}
		fmt.Printf("match %s seats=%d joins=%d leaves=%d duration=%s end=%s\n",
			m.id, len(m.seats), m.joins, m.leaves, dur, m.reason)

		players := make([]int, 0, len(m.actions))
		for pid := range m.actions {
			players = append(players, pid)
		}
		sort.Ints(players)
		for _, pid := range players {
			types := make([]string, 0, len(m.actions[pid]))
			for t := range m.actions[pid] {
				types = append(types, t)
			}
			sort.Strings(types)
			fmt.Printf("  player %d:", pid)
			for _, t := range types {
				fmt.Printf(" %s=%d", t, m.actions[pid][t])
			}
			fmt.Println()
		}
	}
}
