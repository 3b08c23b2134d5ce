package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"jobsight/orchestrator/internal/balancer"
	"jobsight/orchestrator/internal/breaker"
	"jobsight/orchestrator/internal/config"
	"jobsight/orchestrator/internal/engine"
	"jobsight/orchestrator/internal/handlers"
	"jobsight/orchestrator/internal/health"
	"jobsight/orchestrator/internal/history"
	"jobsight/orchestrator/internal/metrics"
	"jobsight/orchestrator/internal/models"
	"jobsight/orchestrator/internal/orchestrator"
	"jobsight/orchestrator/internal/registry"
)

var (
	grpcServer *grpc.Server
	httpServer *http.Server
)

func main() {
	httpPort := flag.String("http-port", "", "HTTP port (overrides HTTP_PORT)")
	grpcPort := flag.String("grpc-port", "", "gRPC port (overrides GRPC_PORT)")
	flag.Parse()

	cfg := config.LoadConfig()
	if *httpPort != "" {
		cfg.HTTPPort = *httpPort
	}
	if *grpcPort != "" {
		cfg.GRPCPort = *grpcPort
	}

	log.Println("Starting detection orchestrator...")
	log.Printf("HTTP port: %s", cfg.HTTPPort)
	log.Printf("gRPC port: %s", cfg.GRPCPort)
	log.Printf("Strategy: %s", cfg.Strategy)
	log.Printf("Environment: %s", cfg.Environment)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	reg := registry.New()
	registerEngines(reg, models.CapabilityDamage, "damage-detector", "v1.2.0", cfg.DamageEngines, cfg.DamageThreshold)
	registerEngines(reg, models.CapabilityMaterial, "material-detector", "v1.1.0", cfg.MaterialEngines, cfg.MaterialThreshold)
	registerEngines(reg, models.CapabilityVolume, "volume-estimator", "v1.0.0", cfg.VolumeEngines, cfg.VolumeThreshold)

	breakers := breaker.NewSet(breaker.Settings{
		FailureThreshold: cfg.CircuitBreakerThreshold,
		RecoveryTimeout:  cfg.CircuitBreakerTimeout,
	})
	client := engine.NewClient()
	monitor := health.NewMonitor(reg, breakers, client, cfg.HealthCheckInterval, cfg.HealthProbeTimeout)
	collector := metrics.NewCollector(cfg.MetricsWindowSize)
	hist := history.New(cfg.HistorySize)
	bal := balancer.New(reg, breakers, monitor, cfg.Strategy)

	orch := orchestrator.New(orchestrator.Options{
		Registry:      reg,
		Balancer:      bal,
		Breakers:      breakers,
		Monitor:       monitor,
		Engines:       client,
		Collector:     collector,
		History:       hist,
		EngineTimeout: cfg.EngineTimeout,
	})

	hub := handlers.NewHub()
	orch.SetPublisher(hub.BroadcastDetection)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor.Start(ctx)

	healthServer := grpchealth.NewServer()
	go updateServingStatus(ctx, monitor, healthServer, cfg.HealthCheckInterval)

	grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	log.Println("Starting gRPC health server...")
	go startGRPCServer(cfg.GRPCPort)

	log.Println("Starting HTTP server...")
	go startHTTPServer(cfg.HTTPPort, handlers.NewHandler(orch, cfg.CORSOrigins), hub)

	<-done
	log.Println("Shutting down...")
	cancel()
	monitor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		log.Println("Forced gRPC shutdown")
		grpcServer.Stop()
	}

	if httpServer != nil {
		httpShutdownCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer httpCancel()
		if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
			log.Printf("Error shutting down HTTP server: %v", err)
		}
	}

	hub.Close()
	log.Println("Goodbye!")
}

// registerEngines adds one model version per configured endpoint; replicas
// past the first get a numbered name so (name, version) stays unique.
func registerEngines(reg *registry.Registry, capability models.Capability, name, version string, endpoints []string, threshold float64) {
	for i, endpoint := range endpoints {
		modelName := name
		if i > 0 {
			modelName = fmt.Sprintf("%s-%d", name, i+1)
		}
		reg.Register(models.ModelVersion{
			Name:                modelName,
			Version:             version,
			Capability:          capability,
			Endpoint:            endpoint,
			ConfidenceThreshold: threshold,
			Enabled:             true,
		})
	}
}

// updateServingStatus mirrors the monitor's view into the standard gRPC
// health service: one service entry per capability plus the overall status.
func updateServingStatus(ctx context.Context, monitor *health.Monitor, healthServer *grpchealth.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snapshot := monitor.Snapshot()
		allServing := len(snapshot) > 0
		for capability, group := range snapshot {
			serving := false
			for _, h := range group {
				if h.Healthy {
					serving = true
					break
				}
			}
			status := healthpb.HealthCheckResponse_NOT_SERVING
			if serving {
				status = healthpb.HealthCheckResponse_SERVING
			} else {
				allServing = false
			}
			healthServer.SetServingStatus(string(capability), status)
		}
		overall := healthpb.HealthCheckResponse_NOT_SERVING
		if allServing {
			overall = healthpb.HealthCheckResponse_SERVING
		}
		healthServer.SetServingStatus("", overall)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func startGRPCServer(port string) {
	if len(port) > 0 && port[0] == ':' {
		port = port[1:]
	}

	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		log.Fatalf("failed to listen on gRPC port: %v", err)
	}

	log.Printf("gRPC health server listening on port %s", port)
	if err := grpcServer.Serve(lis); err != nil {
		log.Fatalf("failed to serve gRPC server: %v", err)
	}
}

func startHTTPServer(port string, handler *handlers.Handler, hub *handlers.Hub) {
	if len(port) > 0 && port[0] == ':' {
		port = port[1:]
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	mux.HandleFunc("/api/v1/orchestrator/detect", handler.Detect)
	mux.HandleFunc("/api/v1/orchestrator/status", handler.Status)
	mux.HandleFunc("/api/v1/orchestrator/health", handler.Health)
	mux.HandleFunc("/api/v1/orchestrator/metrics", handler.Metrics)
	mux.HandleFunc("/api/v1/orchestrator/models", handler.Models)

	httpServer = &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("HTTP server listening on port %s", port)
	log.Printf("WebSocket:  ws://localhost:%s/ws", port)
	log.Printf("REST API:   http://localhost:%s/api/v1/orchestrator/*", port)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to serve HTTP: %v", err)
	}
}
