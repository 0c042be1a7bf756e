package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"

	"farmersfright.gg/internal/client"
	"farmersfright.gg/internal/game"
	"farmersfright.gg/internal/logging"
	"farmersfright.gg/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:3000/v1/ws", "ws url")
		playerID = flag.Int("player", 0, "join this seat directly instead of queueing (1..8)")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "random seed for orders")
		every    = flag.Duration("every", 3*time.Second, "interval between orders")
		level    = flag.String("log_level", "info", "log level")
	)
	flag.Parse()

	logger := logging.Component(logging.New(*level, true, os.Stdout), "bot")
	rng := rand.New(rand.NewSource(*seed))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c := client.New(*url, client.Handlers{
		OnQueueUpdate: func(m protocol.QueueUpdateMsg) {
			logger.Info().Int("size", len(m.Players)).Msg("queue update")
		},
		OnGameStarting: func(m protocol.GameStartingMsg) {
			logger.Info().Int("player", m.PlayerID).Int("team", m.Team).Msg("game starting")
		},
		OnJoinSuccess: func(m protocol.JoinSuccessMsg) {
			logger.Info().Int("player", m.PlayerID).Msg("joined")
		},
		OnJoinError: func(m protocol.JoinErrorMsg) {
			logger.Error().Str("message", m.Message).Msg("join failed")
			cancel()
		},
		OnChat: func(m protocol.ChatMsg) {
			logger.Info().Int("from", m.PlayerID).Bool("team", m.IsTeamChat).Str("message", m.Message).Msg("chat")
		},
		OnError: func(m protocol.ErrorMsg) {
			logger.Warn().Str("code", m.Code).Str("message", m.Message).Msg("server error")
		},
		OnState: func(w *client.World, res client.MergeResult) {
			if res.Rejected > 0 {
				logger.Warn().Int("rejected", res.Rejected).Msg("snapshot objects rejected")
			}
		},
	}, logger)
	defer c.Close()
	c.View(func(w *client.World) {
		w.OnInit = func(w *client.World) {
			logger.Info().Int("self", w.Self).Int("objects", w.Len()).Int("own_units", len(w.OwnUnits())).Msg("in game")
		}
	})

	if err := c.Dial(ctx); err != nil {
		logger.Fatal().Err(err).Msg("dial")
	}
	if *playerID > 0 {
		_ = c.JoinGame(*playerID)
	} else {
		_ = c.JoinQueue()
	}

	go func() {
		if err := c.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("connection lost")
		}
		cancel()
	}()

	frame := time.NewTicker(time.Second / 60)
	defer frame.Stop()
	orders := time.NewTicker(*every)
	defer orders.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-frame.C:
			c.View(func(w *client.World) { w.Predict(now.Sub(last)) })
			last = now
		case <-orders.C:
			order(c, rng, logger)
		}
	}
}

// order sends the bot's own units somewhere near them with a plain or
// attack move, and occasionally announces it on team chat.
func order(c *client.Client, rng *rand.Rand, logger zerolog.Logger) {
	var ids []string
	var center game.Point
	c.View(func(w *client.World) {
		for _, e := range w.OwnUnits() {
			ids = append(ids, e.ID)
			center.X += e.X
			center.Y += e.Y
		}
	})
	if len(ids) == 0 {
		return
	}
	center.X /= float64(len(ids))
	center.Y /= float64(len(ids))
	target := game.Point{
		X: clamp(center.X+rng.Float64()*600-300, 0, game.MapWidth),
		Y: clamp(center.Y+rng.Float64()*600-300, 0, game.MapHeight),
	}
	var err error
	if rng.Intn(2) == 0 {
		err = c.Move(ids, target.X, target.Y)
	} else {
		err = c.AttackMove(ids, target.X, target.Y)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("order")
	}
	if rng.Intn(5) == 0 {
		_ = c.Chat("moving out", true)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
