/*
protoengine is a standalone spamc/rspamc protocol engine daemon. It reads a
JSON configuration file, starts a Prometheus metrics listener, and serves the
protocol engine over TCP with crash-restart supervision.
*/
package main

import (
	"flag"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rspamd-go/protoengine/config"
	"github.com/rspamd-go/protoengine/daemon/common"
	"github.com/rspamd-go/protoengine/daemon/filterd"
	"github.com/rspamd-go/protoengine/logx"
	"github.com/rspamd-go/protoengine/metrics"
	"github.com/rspamd-go/protoengine/procsup"
	"github.com/rspamd-go/protoengine/protocol"
)

var logger = logx.Logger{ComponentName: "main", ComponentID: []logx.IDField{{Key: "PID", Value: os.Getpid()}}}

func main() {
	configPath := flag.String("config", "", "path to the JSON configuration file")
	flag.Parse()

	if *configPath == "" {
		logger.Abort(nil, nil, "please provide a configuration file (-config)")
		return
	}

	raw, err := os.ReadFile(*configPath)
	if err != nil {
		logger.Abort(nil, err, "failed to read configuration file %q", *configPath)
		return
	}

	var cfg config.Config
	if err := cfg.DeserialiseFromJSON(raw); err != nil {
		logger.Abort(nil, err, "failed to parse configuration file %q", *configPath)
		return
	}

	procsup.HandleDaemonSignals()
	procsup.DumpGoroutinesOnInterrupt()

	registry := protocol.NewCommandRegistry()
	scanCounters := metrics.NewScanCounters(prometheus.DefaultRegisterer)

	if cfg.MetricsListenAddress != "" {
		go serveMetrics(cfg.MetricsListenAddress)
	}

	daemon := filterd.NewDaemon(registry, scanCounters, &filterd.NoopPipeline{}, cfg.MaxMessageBytes)
	var srv *common.TCPServer
	if cfg.TLSCertPath != "" {
		srv = common.NewTLSTCPServer(cfg.ListenAddress, cfg.ListenPort, "filterd", daemon, cfg.PerIPLimit, cfg.TLSCertPath, cfg.TLSKeyPath)
	} else {
		srv = common.NewTCPServer(cfg.ListenAddress, cfg.ListenPort, "filterd", daemon, cfg.PerIPLimit)
	}

	procsup.AutoRestart(&logger, "filterd", srv.StartAndBlock)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warning("metrics", err, "metrics listener on %s has stopped", addr)
	}
}
