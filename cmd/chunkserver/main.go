// Command chunkserver runs a gfscore chunk storage node: on-disk chunk
// storage, pipelined writes, primary-ordered commits, and atomic record
// append (spec §4.2).
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"gfscore/apis"
	"gfscore/chunkserver"
	"gfscore/chunkserver/storage"
	"gfscore/config"
	"gfscore/rpc"
)

func main() {
	configPath := flag.String("config", "", "path to a chunkserver config YAML file (defaults applied for any field it omits)")
	listen := flag.String("listen", "", "override the config file's listen_address")
	flag.Parse()

	log := logrus.WithField("component", "cmd/chunkserver")

	cfg := config.DefaultChunkServerConfig()
	if *configPath != "" {
		loaded, err := config.LoadChunkServerConfig(*configPath)
		if err != nil {
			log.WithError(err).Fatal("loading config")
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.ListenAddress = *listen
	}
	if cfg.ID == "" {
		log.Fatal("chunkserver requires a stable id (config field: id)")
	}
	if cfg.MasterAddress == "" {
		log.Fatal("chunkserver requires a master address (config field: master_address)")
	}

	store, err := storage.ConfigureDiskStorage(cfg.DataDir)
	if err != nil {
		log.WithError(err).Fatal("opening storage")
	}
	defer store.Close()

	masterClient := rpc.DialMaster(apis.ServerAddress(cfg.MasterAddress))
	cache := rpc.NewConnectionCache()
	defer cache.CloseAll()

	cs := chunkserver.New(cfg, store, masterClient, cache)

	teardown, addr, err := rpc.PublishChunkServer(cs, cfg.ListenAddress)
	if err != nil {
		log.WithError(err).Fatal("starting RPC listener")
	}
	log.WithField("address", addr).Info("chunkserver listening")

	if err := cs.Start(); err != nil {
		log.WithError(err).Fatal("registering with master")
	}

	waitForShutdown(log)

	cs.Stop()
	if err := teardown(false); err != nil {
		log.WithError(err).Warn("closing RPC listener")
	}
}

func waitForShutdown(log *logrus.Entry) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	s := <-sig
	log.WithField("signal", s).Info("shutting down")
}
