// whitebox-sim runs a batch of synthetic requests through the full decision
// pipeline and writes the whitebox trace stream to a JSON-lines file.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/spf13/viper"

	"github.com/cloudx-io/whitebox-exchange/core"
	"github.com/cloudx-io/whitebox-exchange/sim"
	"github.com/cloudx-io/whitebox-exchange/trace"
)

func main() {
	configPath := flag.String("config", "", "Optional path to a config file (yaml/toml/json)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("ERROR: %v", err)
	}
}

type config struct {
	Requests     int
	DSPs         int
	Workers      int
	FloorPrice   float64
	MaxLatencyMS float64
	BasePrice    float64
	RequiredSize core.AdSize
	Blacklist    []string
	Quality      bool
	SKAN         bool
	TraceFile    string
}

func loadConfig(path string) (config, error) {
	v := viper.New()
	v.SetDefault("requests", 20)
	v.SetDefault("dsps", 3)
	v.SetDefault("workers", 4)
	v.SetDefault("floor_price", 0.1)
	v.SetDefault("max_latency_ms", 100)
	v.SetDefault("base_price", 0.5)
	v.SetDefault("required_size.width", 320)
	v.SetDefault("required_size.height", 50)
	v.SetDefault("blacklist", []string{})
	v.SetDefault("quality_scoring", true)
	v.SetDefault("skan_optimization", true)
	v.SetDefault("trace_file", "whitebox.log")
	v.SetEnvPrefix("WHITEBOX")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	return config{
		Requests:     v.GetInt("requests"),
		DSPs:         v.GetInt("dsps"),
		Workers:      v.GetInt("workers"),
		FloorPrice:   v.GetFloat64("floor_price"),
		MaxLatencyMS: v.GetFloat64("max_latency_ms"),
		BasePrice:    v.GetFloat64("base_price"),
		RequiredSize: core.AdSize{
			Width:  v.GetInt("required_size.width"),
			Height: v.GetInt("required_size.height"),
		},
		Blacklist: v.GetStringSlice("blacklist"),
		Quality:   v.GetBool("quality_scoring"),
		SKAN:      v.GetBool("skan_optimization"),
		TraceFile: v.GetString("trace_file"),
	}, nil
}

func run(cfg config) error {
	traceFile, err := os.Create(cfg.TraceFile)
	if err != nil {
		return fmt.Errorf("failed to create trace file: %w", err)
	}
	defer func() {
		if err := traceFile.Close(); err != nil {
			log.Printf("ERROR: Failed to close trace file: %v", err)
		}
	}()

	logger := trace.NewLogger(trace.NewLineSink(traceFile))

	var scorer core.Scorer
	if cfg.Quality {
		qs, err := core.NewQualityScorer(logger, core.QualityConfig{})
		if err != nil {
			return fmt.Errorf("failed to build quality scorer: %w", err)
		}
		scorer = qs
	}

	var estimator *core.SKANEstimator
	if cfg.SKAN {
		estimator = core.NewSKANEstimator(logger, core.SKANConfig{})
	}

	sizeFilter, err := core.NewSizeMatchFilter(cfg.RequiredSize)
	if err != nil {
		return err
	}
	latencyFilter, err := core.NewLatencyTimeoutFilter(cfg.MaxLatencyMS)
	if err != nil {
		return err
	}
	complianceFilter, err := core.NewCreativeComplianceFilter(0.1, nil, nil)
	if err != nil {
		return err
	}
	chain := core.NewFilterChain(logger,
		core.NewBlacklistFilter(cfg.Blacklist),
		sizeFilter,
		latencyFilter,
		complianceFilter,
	)

	engine, err := core.NewAuctionEngine(scorer, cfg.FloorPrice)
	if err != nil {
		return err
	}
	exchange, err := core.NewExchange(logger, chain, engine, core.ExchangeConfig{
		FloorPrice:   cfg.FloorPrice,
		MaxLatencyMS: cfg.MaxLatencyMS,
	})
	if err != nil {
		return err
	}

	rnd := core.DefaultRandSource()
	bidders := make([]core.Bidder, 0, cfg.DSPs)
	for i := 0; i < cfg.DSPs; i++ {
		dsp, err := sim.NewDSP(logger, sim.DSPConfig{
			ID:        fmt.Sprintf("DSP_%d", i+1),
			Strategy:  &sim.CTRBiddingStrategy{BasePrice: cfg.BasePrice},
			Estimator: estimator,
			Rand:      rnd,
		})
		if err != nil {
			return err
		}
		bidders = append(bidders, dsp)
	}

	source := sim.NewRequestSource(logger, rnd)
	runner, err := sim.NewRunner(exchange, source, bidders, cfg.Workers)
	if err != nil {
		return err
	}

	log.Printf("INFO: Running %d requests through %d DSPs (%d workers), trace -> %s",
		cfg.Requests, cfg.DSPs, cfg.Workers, cfg.TraceFile)

	specs := make([]sim.RequestSpec, cfg.Requests)
	platforms := []core.Platform{core.PlatformIOS, core.PlatformAndroid, core.PlatformOther}
	for i := range specs {
		specs[i] = sim.RequestSpec{
			DeviceID: fmt.Sprintf("device_%03d", i%7),
			AppID:    fmt.Sprintf("app_%03d", i%5),
			AppName:  fmt.Sprintf("Demo App %d", i%5),
			Platform: platforms[i%len(platforms)],
			AdSize:   cfg.RequiredSize,
		}
	}

	summary := runner.Run(specs)

	log.Printf("INFO: Completed: %d accepted, %d rejected of %d requests", summary.Accepted, summary.Rejected, summary.Requests)
	for reason, count := range summary.Reasons {
		log.Printf("INFO:   %s: %d", reason, count)
	}
	if summary.Accepted > 0 {
		log.Printf("INFO: Total paid %.4f, total second-price savings %.4f", summary.TotalPaid, summary.TotalSaved)
	}
	return nil
}
