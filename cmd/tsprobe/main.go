package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tsprobe/internal/capture"
	"tsprobe/internal/config"
	"tsprobe/internal/metrics"
	"tsprobe/internal/pipeline"
	"tsprobe/internal/report"
)

var (
	version  = "1.0.0"
	cfgFile  string
	duration time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tsprobe",
		Short: "Transport Stream Probe - Live MPEG-TS and SMPTE 2110 stream analyzer",
		Long: `A Go-based probe that captures a live multicast or unicast transport
stream off the wire, demuxes it, and reports per-PID statistics, TR 101 290
error counters, SCTE-35 splice signals, and decoded CEA-608 captions.`,
		Version: version,
		RunE:    run,
	}

	// Configuration file
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "Configuration file path (default: config.yaml)")

	// CLI overrides
	rootCmd.Flags().String("device", "", "Capture device name (default: auto-select)")
	rootCmd.Flags().String("pcap", "", "Replay a capture file instead of capturing live")
	rootCmd.Flags().String("address", "", "Source IP address to capture")
	rootCmd.Flags().Int("port", 0, "Source UDP port to capture")
	rootCmd.Flags().String("protocol", "", "Stream protocol (mpegts|smpte2110)")
	rootCmd.Flags().String("backend", "", "Capture backend (pcap|afpacket)")
	rootCmd.Flags().Int("packet-size", 0, "Transport packet size in bytes (188 or 204)")
	rootCmd.Flags().Int("payload-offset", -1, "Bytes to skip before classifying a datagram (RTP encapsulation)")
	rootCmd.Flags().Bool("promiscuous", true, "Capture in promiscuous mode")
	rootCmd.Flags().Bool("immediate", false, "Disable capture buffering for low latency")
	rootCmd.Flags().Int("queue-size", 0, "Packet queue depth")
	rootCmd.Flags().Bool("drop-on-full", false, "Drop packets instead of blocking on a full queue")
	rootCmd.Flags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.Flags().Bool("metrics", false, "Enable the prometheus metrics endpoint")
	rootCmd.Flags().String("metrics-listen", "", "Metrics listen address")
	rootCmd.Flags().Int("report-interval", -1, "Seconds between periodic reports (0 disables)")
	rootCmd.Flags().String("export", "", "JSON report export file")
	rootCmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 runs until interrupted)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Load configuration
	v := viper.New()
	config.SetDefaults(v)

	// Load config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK if using CLI flags
		log.Debug("No config file found, using defaults and CLI flags")
	}

	// Bind CLI flags (override config file values)
	bindViperFlags(v, cmd)

	cfg, err := config.LoadWithViper(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logging
	setupLogging(cfg)

	fmt.Printf("Transport Stream Probe v%s\n", version)
	fmt.Println("==============================")
	fmt.Print(cfg.Summary())
	fmt.Println()

	if err := cfg.Validate(); err != nil {
		return err
	}

	// Setup context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	// Metrics server
	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.Listen)
		metricsSrv.Start()
		defer metricsSrv.Shutdown()
	}

	// Capture backend and loop
	var backend capture.Backend
	switch {
	case cfg.Capture.PcapFile != "":
		backend = capture.NewFileBackend(cfg.Capture.PcapFile)
	case cfg.Capture.Backend == "afpacket":
		backend = capture.NewAfpacketBackend(cfg.Capture)
	default:
		backend = capture.NewPcapBackend(cfg.Capture)
	}

	loop := capture.NewLoop(backend, cfg.Queue, cfg.Capture.BatchSize)
	if err := loop.Start(); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}

	// Analysis pipeline
	var registry *prometheus.Registry
	if metricsSrv != nil {
		registry = metricsSrv.Registry()
	}
	pipe := pipeline.New(cfg, loop, registry)

	// Reporter
	reporter := report.NewReporter(pipe.Table, pipe.Monitor, loop, cfg.Stats.ReportIntervalSec, cfg.Stats.ExportFile)
	if cfg.Stats.Enabled {
		reporter.StartPeriodicReport(ctx)
	}

	// Bounded run
	if duration > 0 {
		go func() {
			select {
			case <-time.After(duration):
				log.WithField("duration", duration).Info("Capture duration elapsed")
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	// Run until shutdown
	runDone := make(chan struct{})
	go func() {
		pipe.Run(ctx)
		close(runDone)
	}()

	select {
	case <-ctx.Done():
	case <-runDone:
		// Capture ended on its own (fatal backend error).
	}

	loop.Stop()
	cancel()
	<-runDone

	// Print final statistics
	if cfg.Stats.Enabled {
		reporter.PrintFinalReport()
		if err := reporter.ExportJSON(); err != nil {
			log.WithError(err).Warn("Failed to export report")
		}
	}

	return nil
}

func setupLogging(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.WithError(err).Warn("Failed to open log file, using console only")
		} else {
			log.SetOutput(f)
		}
	}
}

func bindViperFlags(v *viper.Viper, cmd *cobra.Command) {
	if cmd.Flags().Changed("device") {
		val, _ := cmd.Flags().GetString("device")
		v.Set("capture.device", val)
	}
	if cmd.Flags().Changed("pcap") {
		val, _ := cmd.Flags().GetString("pcap")
		v.Set("capture.pcap_file", val)
	}
	if cmd.Flags().Changed("address") {
		val, _ := cmd.Flags().GetString("address")
		v.Set("capture.address", val)
	}
	if cmd.Flags().Changed("port") {
		val, _ := cmd.Flags().GetInt("port")
		v.Set("capture.port", val)
	}
	if cmd.Flags().Changed("protocol") {
		val, _ := cmd.Flags().GetString("protocol")
		v.Set("capture.protocol", val)
	}
	if cmd.Flags().Changed("backend") {
		val, _ := cmd.Flags().GetString("backend")
		v.Set("capture.backend", val)
	}
	if cmd.Flags().Changed("packet-size") {
		val, _ := cmd.Flags().GetInt("packet-size")
		v.Set("capture.packet_size", val)
	}
	if cmd.Flags().Changed("payload-offset") {
		val, _ := cmd.Flags().GetInt("payload-offset")
		v.Set("capture.payload_offset", val)
	}
	if cmd.Flags().Changed("promiscuous") {
		val, _ := cmd.Flags().GetBool("promiscuous")
		v.Set("capture.promiscuous", val)
	}
	if cmd.Flags().Changed("immediate") {
		val, _ := cmd.Flags().GetBool("immediate")
		v.Set("capture.immediate", val)
	}
	if cmd.Flags().Changed("queue-size") {
		val, _ := cmd.Flags().GetInt("queue-size")
		v.Set("queue.size", val)
	}
	if cmd.Flags().Changed("drop-on-full") {
		val, _ := cmd.Flags().GetBool("drop-on-full")
		v.Set("queue.drop_on_full", val)
	}
	if cmd.Flags().Changed("log-level") {
		val, _ := cmd.Flags().GetString("log-level")
		v.Set("logging.level", val)
	}
	if cmd.Flags().Changed("metrics") {
		val, _ := cmd.Flags().GetBool("metrics")
		v.Set("metrics.enabled", val)
	}
	if cmd.Flags().Changed("metrics-listen") {
		val, _ := cmd.Flags().GetString("metrics-listen")
		v.Set("metrics.listen", val)
	}
	if cmd.Flags().Changed("report-interval") {
		val, _ := cmd.Flags().GetInt("report-interval")
		v.Set("stats.report_interval_sec", val)
	}
	if cmd.Flags().Changed("export") {
		val, _ := cmd.Flags().GetString("export")
		v.Set("stats.export_file", val)
	}
}
