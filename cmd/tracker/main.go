// Command tracker runs a standalone BitTorrent UDP tracker.
package main

import (
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/rifttrack/tracker/frontend/udp"
	"github.com/rifttrack/tracker/middleware"
	applog "github.com/rifttrack/tracker/pkg/log"
	"github.com/rifttrack/tracker/pkg/metrics"
	"github.com/rifttrack/tracker/pkg/stop"

	// Drivers register themselves with their registries on import.
	_ "github.com/rifttrack/tracker/storage/memory"
	_ "github.com/rifttrack/tracker/store/keystore/memorystore"
	_ "github.com/rifttrack/tracker/store/keystore/redisstore"
	_ "github.com/rifttrack/tracker/store/keystore/sqlstore"
	_ "github.com/rifttrack/tracker/store/whitelist/boltstore"
	_ "github.com/rifttrack/tracker/store/whitelist/memorystore"
)

func main() {
	var configFilePath string
	var cpuProfilePath string

	rootCmd := &cobra.Command{
		Use:   "tracker",
		Short: "BitTorrent UDP tracker",
		Long:  "A BEP 15 BitTorrent tracker served over UDP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFilePath, cpuProfilePath)
		},
	}

	rootCmd.Flags().StringVar(&configFilePath, "config", "/etc/tracker.yaml", "location of configuration file")
	rootCmd.Flags().StringVar(&cpuProfilePath, "cpuprofile", "", "location to save a CPU profile")

	if err := rootCmd.Execute(); err != nil {
		applog.Fatal(err)
	}
}

func run(configFilePath, cpuProfilePath string) error {
	if cpuProfilePath != "" {
		f, err := os.Create(cpuProfilePath)
		if err != nil {
			return err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			return err
		}
		defer pprof.StopCPUProfile()
	}

	cfgFile, err := ParseConfigFile(configFilePath)
	if err != nil {
		return errors.Wrap(err, "failed to read config")
	}

	applog.SetDebug(cfgFile.Tracker.Debug)

	peerStore, err := cfgFile.CreatePeerStore()
	if err != nil {
		return errors.Wrap(err, "failed to create peer store")
	}

	keyStore, err := cfgFile.CreateKeyStore()
	if err != nil {
		return errors.Wrap(err, "failed to create keystore")
	}

	whitelistStore, err := cfgFile.CreateWhitelistStore()
	if err != nil {
		return errors.Wrap(err, "failed to create whitelist")
	}
	if whitelistStore != nil {
		whitelistStore = middleware.NewPinningWhitelistStore(whitelistStore, peerStore)
	}

	sink := metrics.NewSink()

	trackerCfg := cfgFile.Tracker.Config
	trackerCfg.Validate()

	logic := middleware.NewLogic(trackerCfg, peerStore, keyStore, whitelistStore, sink, middleware.SystemClock, nil, nil)

	frontend, err := udp.NewFrontend(logic, cfgFile.Tracker.UDPConfig)
	if err != nil {
		return errors.Wrap(err, "failed to start udp frontend")
	}

	var promServer *metrics.Server
	if cfgFile.Tracker.PrometheusAddr != "" {
		promServer = metrics.NewServer(cfgFile.Tracker.PrometheusAddr)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	applog.Info("shutting down")

	stopGroup := stop.NewGroup()
	stopGroup.Add(frontend)
	stopGroup.Add(logic)
	stopGroup.Add(peerStore)
	if promServer != nil {
		stopGroup.Add(promServer)
	}

	if errs := <-stopGroup.Stop(); len(errs) != 0 {
		for _, e := range errs {
			applog.Error(e)
		}
		return errors.New("failed to cleanly shut down all components")
	}

	return nil
}
