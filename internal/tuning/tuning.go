package tuning

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`

	Queue   Queue   `yaml:"queue"`
	Economy Economy `yaml:"economy"`

	RateLimits RateLimits `yaml:"rate_limits"`

	// OutQueue is the per-connection send buffer.
	OutQueue int `yaml:"out_queue"`
}

type Queue struct {
	Quorum        int `yaml:"quorum"`
	SettleDelayMs int `yaml:"settle_delay_ms"`
	MaxPlayers    int `yaml:"max_players"`
}

type Economy struct {
	StartResources   int `yaml:"start_resources"`
	SupplyCap        int `yaml:"supply_cap"`
	IncomeAmount     int `yaml:"income_amount"`
	IncomeIntervalMs int `yaml:"income_interval_ms"`
	UpgradeBasePrice int `yaml:"upgrade_base_price"`
}

type RateLimits struct {
	ConnectWindowMs int `yaml:"connect_window_ms"`
	ConnectMax      int `yaml:"connect_max"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz: 60,
		Queue: Queue{
			Quorum:        2,
			SettleDelayMs: 1000,
			MaxPlayers:    8,
		},
		Economy: Economy{
			StartResources:   50,
			SupplyCap:        45,
			IncomeAmount:     5,
			IncomeIntervalMs: 1000,
			UpgradeBasePrice: 25,
		},
		RateLimits: RateLimits{
			ConnectWindowMs: 60_000,
			ConnectMax:      10,
		},
		OutQueue: 64,
	}
}

// Load reads a tuning file on top of Defaults, so a file may set only the
// values it cares about.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0 (got %d)", name, v))
		}
	}
	positive("tick_rate_hz", t.TickRateHz)
	positive("queue.quorum", t.Queue.Quorum)
	positive("queue.settle_delay_ms", t.Queue.SettleDelayMs)
	positive("queue.max_players", t.Queue.MaxPlayers)
	positive("economy.supply_cap", t.Economy.SupplyCap)
	positive("economy.income_interval_ms", t.Economy.IncomeIntervalMs)
	positive("economy.upgrade_base_price", t.Economy.UpgradeBasePrice)
	positive("rate_limits.connect_window_ms", t.RateLimits.ConnectWindowMs)
	positive("rate_limits.connect_max", t.RateLimits.ConnectMax)
	positive("out_queue", t.OutQueue)
	if t.Economy.StartResources < 0 {
		errs = append(errs, fmt.Errorf("economy.start_resources must be >= 0"))
	}
	if t.Economy.IncomeAmount < 0 {
		errs = append(errs, fmt.Errorf("economy.income_amount must be >= 0"))
	}
	if t.Queue.Quorum > t.Queue.MaxPlayers {
		errs = append(errs, fmt.Errorf("queue.quorum (%d) exceeds queue.max_players (%d)", t.Queue.Quorum, t.Queue.MaxPlayers))
	}
	return errors.Join(errs...)
}

func (t Tuning) TickInterval() time.Duration {
	return time.Second / time.Duration(t.TickRateHz)
}

func (q Queue) SettleDelay() time.Duration {
	return time.Duration(q.SettleDelayMs) * time.Millisecond
}

func (e Economy) IncomeInterval() time.Duration {
	return time.Duration(e.IncomeIntervalMs) * time.Millisecond
}

func (r RateLimits) ConnectWindow() time.Duration {
	return time.Duration(r.ConnectWindowMs) * time.Millisecond
}
