// Command master runs a gfscore metadata master: namespace, chunk map, lease
// coordination, failure detection, re-replication, and garbage collection
// (spec §4.1).
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"gfscore/addressdir"
	"gfscore/config"
	"gfscore/master"
	"gfscore/rpc"
)

func main() {
	configPath := flag.String("config", "", "path to a master config YAML file (defaults applied for any field it omits)")
	listen := flag.String("listen", "", "override the config file's listen_address")
	flag.Parse()

	log := logrus.WithField("component", "cmd/master")

	cfg := config.DefaultMasterConfig()
	if *configPath != "" {
		loaded, err := config.LoadMasterConfig(*configPath)
		if err != nil {
			log.WithError(err).Fatal("loading config")
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.ListenAddress = *listen
	}

	dir, err := openDirectory(cfg.EtcdEndpoints)
	if err != nil {
		log.WithError(err).Fatal("opening address directory")
	}
	defer dir.Close()

	m, err := master.New(cfg, dir)
	if err != nil {
		log.WithError(err).Fatal("recovering master state")
	}
	m.Start()

	teardown, addr, err := rpc.PublishMaster(m, cfg.ListenAddress)
	if err != nil {
		log.WithError(err).Fatal("starting RPC listener")
	}
	log.WithField("address", addr).Info("master listening")

	waitForShutdown(log)

	if err := teardown(false); err != nil {
		log.WithError(err).Warn("closing RPC listener")
	}
	if err := m.Stop(); err != nil {
		log.WithError(err).Warn("stopping master")
	}
}

// openDirectory returns an etcd-backed Directory when endpoints are
// configured, or an in-process one otherwise (suitable for a single-master
// deployment with no other process needing to resolve chunkserver addresses).
func openDirectory(endpoints []string) (addressdir.Directory, error) {
	if len(endpoints) == 0 {
		return addressdir.NewMemoryDirectory(), nil
	}
	return addressdir.NewEtcdDirectory(endpoints)
}

func waitForShutdown(log *logrus.Entry) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	s := <-sig
	log.WithField("signal", s).Info("shutting down")
}
