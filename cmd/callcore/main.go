package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mobiletel/callcore/internal/calls"
	"github.com/mobiletel/callcore/internal/cellular"
	"github.com/mobiletel/callcore/internal/config"
	"github.com/mobiletel/callcore/internal/control"
	"github.com/mobiletel/callcore/internal/listener"
	"github.com/mobiletel/callcore/internal/logging"
	"github.com/mobiletel/callcore/internal/ott"
	"github.com/mobiletel/callcore/internal/records"
)

func main() {
	if err := config.LoadEnv(); err != nil {
		log.Printf("no env file loaded: %v", err)
	}
	cfg, err := config.New[config.CoreConfig]()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logs, err := logging.Init(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to init logging: %v", err)
	}
	defer logs.Close()

	registry := calls.NewRegistry()
	conferences := map[calls.CallKind]*calls.Conference{
		calls.KindCS:  calls.NewConference(calls.KindCS, calls.DefaultConferenceLimit),
		calls.KindIMS: calls.NewConference(calls.KindIMS, cfg.ImsConferenceLimit),
	}
	policy := calls.NewPolicy(registry, conferences)
	listeners := listener.NewRegistry(logs.Component("listener"))

	cellularClient := cellular.NewClient(cfg.CellularAddr, cfg.CellularCmdTimeout, logs.Component("cellular"))
	defer cellularClient.Close()
	if err := cellularClient.EnsureConnected(); err != nil {
		// Connection is lazy; the first call retries.
		logs.Component("cellular").WithError(err).Warn("cellular service not reachable yet")
	}

	bridge := ott.NewBridge(logs.Component("ott"))
	defer bridge.Close()
	bridge.SetNotify(listeners.NotifyOttCallRequest)

	backends := map[calls.CallKind]calls.Backend{
		calls.KindCS:  cellularClient,
		calls.KindIMS: cellularClient,
		calls.KindOTT: bridge,
	}

	if cfg.RecordsEnabled {
		store, err := records.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RecordsTTL, logs.Component("records"))
		if err != nil {
			log.Fatalf("Failed to connect call record store: %v", err)
		}
		defer store.Close()
		listeners.Subscribe(store)
	}

	requests := control.NewRequestDispatcher(registry, listeners, logs.Component("requests"))
	requests.Start()
	defer requests.Stop()

	reports := control.NewReportDispatcher(registry, listeners, backends, conferences, nil, logs.Component("reports"))
	reports.Start()
	defer reports.Stop()
	go reports.PumpCellular(cellularClient.Reports())
	go reports.PumpOtt(bridge.Updates())

	core := control.NewCallControl(registry, policy, requests, listeners, backends, conferences, logs.Component("control"))

	mux := http.NewServeMux()
	mux.Handle("/ott", bridge)
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"hasCall":        core.HasCall(),
			"ringing":        core.IsRinging(),
			"newCallAllowed": core.IsNewCallAllowed(),
			"emergency":      core.HasEmergency(),
		})
	})
	httpServer := &http.Server{Addr: cfg.OttListenAddr, Handler: mux}
	go func() {
		logs.Component("ott").Infof("ott registration listening at %s", cfg.OttListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ott listener error: %v", err)
		}
	}()
	defer httpServer.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logs.Component("control").Info("shutting down")
}
