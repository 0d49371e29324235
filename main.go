package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Global debug flag
var DebugMode bool

// Global start time for process uptime tracking
var StartTime time.Time

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	streamName := flag.String("stream", "", "Stream name to connect to (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	DebugMode = *debug
	StartTime = time.Now()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var config *Config
	var err error
	if *configPath != "" {
		config, err = LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		config = DefaultConfig()
		config.Stream.Simulated = true
	}
	if *streamName != "" {
		config.Stream.Name = *streamName
	}

	if err := run(config); err != nil {
		log.Fatalf("Fatal: %v", err)
	}
}

func run(config *Config) error {
	// Discovery: the simulated resolver stands in for the network
	// discovery backend; both satisfy the same contract.
	resolver := &SimulatedResolver{
		Channels:   config.Stream.SimChannels,
		SampleRate: config.Stream.SimSampleRate,
	}
	connect := func(desc StreamDescriptor) (StreamSource, error) {
		return NewSimulatedSource(desc)
	}

	timeout := time.Duration(config.Stream.ResolveTimeout * float64(time.Second))
	source, info, err := Connect(resolver, connect, config.Stream.Name, timeout)
	if err != nil {
		return err
	}
	defer source.Close()

	metrics := NewPrometheusMetrics()
	hub := NewDisplayWebSocketHub(config.Server.EnableCompression, metrics)
	pipeline := NewPipeline(config, source, info, hub, metrics)

	if err := pipeline.Start(); err != nil {
		return err
	}

	if config.Recording.AutoStart {
		path := filepath.Join(config.Recording.Directory,
			fmt.Sprintf("%s_%s.edf", info.Name, time.Now().Format("20060102_150405")))
		if err := pipeline.Recorder().StartSession(path); err != nil {
			log.Printf("Recording auto-start failed: %v", err)
		}
	}

	var publisher *MQTTPublisher
	if config.MQTT.Enabled {
		publisher, err = NewMQTTPublisher(&config.MQTT, pipeline)
		if err != nil {
			log.Printf("MQTT disabled: %v", err)
		} else {
			publisher.Start()
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws/frames", hub)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(CollectSystemHealth(pipeline))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(pipeline.Status())
	})
	if config.Prometheus.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	server := &http.Server{Addr: config.Server.Listen, Handler: mux}
	go func() {
		log.Printf("Server: listening on %s", config.Server.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received signal %v, shutting down", sig)

	if publisher != nil {
		publisher.Stop()
	}

	stats, err := pipeline.Stop()
	if err != nil {
		log.Printf("Pipeline stop: %v", err)
	}
	if stats != nil && DebugMode {
		out, _ := json.MarshalIndent(stats, "", "  ")
		log.Printf("Final stats:\n%s", out)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
