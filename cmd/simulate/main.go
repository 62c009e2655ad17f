package main

import (
	"fmt"
	"math"
	"os"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"crashwager/internal/game"
	"crashwager/internal/logging"
)

type CLI struct {
	Rounds    int     `default:"100000" help:"Number of rounds to simulate"`
	HouseEdge float64 `default:"0.04" help:"Probability of an instant 1.00x crash"`
	Max       float64 `default:"1000" help:"Crash point cap"`
	Target    float64 `default:"2.0" help:"Fixed cash-out target for the RTP estimate"`
	History   int     `default:"50" help:"Ring buffer size for the rolling RTP figure"`
	Verbose   bool    `short:"v" help:"Verbose logging"`
}

type Report struct {
	Rounds        int
	Instant       int
	Mean          float64
	Highest       float64
	Wins          int
	EmpiricalRTP  float64
	ExpectedRTP   float64
	RollingRTP    float64
	RollingWindow int
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("simulate"),
		kong.Description("Monte Carlo run of the crash point generator"),
		kong.UsageOnError(),
	)

	level := "warn"
	if cli.Verbose {
		level = "debug"
	}
	logger := logging.Setup("development", level)

	report, err := run(cli, game.NewCryptoSource(), logger)
	ctx.FatalIfErrorf(err)
	report.Print()
}

func run(cli CLI, source game.RandomSource, logger zerolog.Logger) (Report, error) {
	if cli.Rounds < 1 {
		return Report{}, fmt.Errorf("rounds must be positive, got %d", cli.Rounds)
	}
	if cli.Target <= game.MinMultiplier {
		return Report{}, fmt.Errorf("target must be above %.2fx", game.MinMultiplier)
	}
	cfg := game.DefaultConfig()
	cfg.HouseEdge = cli.HouseEdge
	cfg.MaxMultiplier = cli.Max
	cfg.HistorySize = cli.History
	if err := cfg.Validate(); err != nil {
		return Report{}, err
	}

	gen := game.NewCrashPointGenerator(source, cli.HouseEdge, cli.Max, logger)
	history := game.NewCrashHistory(cli.History)

	r := Report{Rounds: cli.Rounds, RollingWindow: cli.History}
	var sum, returned float64
	for i := 0; i < cli.Rounds; i++ {
		c := gen.Next()
		history.Add(c)
		sum += c
		r.Highest = math.Max(r.Highest, c)
		if c == game.MinMultiplier {
			r.Instant++
		}
		// a cash-out strictly below the crash point pays
		if cli.Target < c {
			r.Wins++
			returned += float64(game.Payout(1_000_000, cli.Target)) / 1_000_000
		}
		if i > 0 && i%(cli.Rounds/10+1) == 0 {
			logger.Debug().Int("round", i).Float64("mean", sum/float64(i+1)).Msg("progress")
		}
	}

	r.Mean = sum / float64(cli.Rounds)
	r.EmpiricalRTP = returned / float64(cli.Rounds) * 100
	r.ExpectedRTP = expectedRTP(cli.Target, cli.HouseEdge, cli.Max) * 100
	r.RollingRTP = history.RTP()
	return r, nil
}

// expectedRTP is target * P(crash > target) under the generator's mapping.
func expectedRTP(target, houseEdge, max float64) float64 {
	if target >= max {
		return 0
	}
	return target * (1 - math.Max(houseEdge, 1-1/target))
}

func (r Report) Print() {
	out := os.Stdout
	fmt.Fprintf(out, "Rounds:            %d\n", r.Rounds)
	fmt.Fprintf(out, "Instant crashes:   %d (%.3f%%)\n", r.Instant, float64(r.Instant)/float64(r.Rounds)*100)
	fmt.Fprintf(out, "Mean crash point:  %.4fx\n", r.Mean)
	fmt.Fprintf(out, "Highest:           %.2fx\n", r.Highest)
	fmt.Fprintf(out, "Target wins:       %d (%.3f%%)\n", r.Wins, float64(r.Wins)/float64(r.Rounds)*100)
	fmt.Fprintf(out, "RTP at target:     %.3f%% (expected %.3f%%)\n", r.EmpiricalRTP, r.ExpectedRTP)
	fmt.Fprintf(out, "Rolling RTP (%d):  %.3f%%\n", r.RollingWindow, r.RollingRTP)
}
