package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dcnet/config"
	"dcnet/filelist"
	"dcnet/hub"
	"dcnet/network"
	"dcnet/observability/logging"
	"dcnet/peer"
	"dcnet/protocol"
	"dcnet/store"
)

const version = "0.1.0"

func main() {
	var cfgPath string
	var showVersion bool
	flag.StringVar(&cfgPath, "config", "dcnet.toml", "path to the configuration file")
	flag.BoolVar(&showVersion, "version", false, "print the version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("dcd " + version)
		return
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("DCNET_ENV"))
	logging.SetupWith("dcd", env, logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Level:      parseLevel(cfg.Log.Level),
	})

	st, err := store.Open(cfg.HashDB)
	if err != nil {
		log.Fatalf("open hash db: %v", err)
	}
	defer st.Close()

	list, err := filelist.ScanShares(cfg.Shares, func(diskPath string, size uint64, lastMod int64) (protocol.TTH, bool) {
		rec, found, err := st.File(diskPath)
		if err != nil || !found {
			return protocol.TTH{}, false
		}
		if rec.Size != size || rec.LastMod != lastMod {
			return protocol.TTH{}, false
		}
		return rec.Root, true
	})
	if err != nil {
		log.Fatalf("scan shares: %v", err)
	}
	slog.Info("share scanned", "files", list.FileCount(), "bytes", list.Root.Size)

	var cid protocol.TTH
	if cfg.PID != "" {
		pid, err := protocol.ParseTTH(cfg.PID)
		if err != nil {
			log.Fatalf("parse PID: %v", err)
		}
		cid = protocol.DeriveCID(pid)
	}

	archivePath := cfg.FileList + ".bz2"
	if err := list.SaveFile(cfg.FileList, cid, "dcnet "+version); err != nil {
		log.Fatalf("write file list: %v", err)
	}
	if err := list.SaveArchive(archivePath, cid, "dcnet "+version); err != nil {
		log.Fatalf("write file list archive: %v", err)
	}
	share := peer.NewShare(list, st, cfg.FileList, archivePath)

	loop := network.NewLoop()

	mgr, err := hub.NewManager(loop, cfg, share, version, &logEvents{log: slog.Default()})
	if err != nil {
		log.Fatalf("set up hubs: %v", err)
	}

	var listener *network.Listener
	var udp *network.UDPListener
	if cfg.Active {
		listener, err = network.Listen(loop, ":"+strconv.Itoa(cfg.TCPPort), mgr.Peers().Accept)
		if err != nil {
			log.Fatalf("listen for peers: %v", err)
		}
		udp, err = network.ListenUDP(loop, ":"+strconv.Itoa(cfg.UDPPort), mgr.HandleDatagram)
		if err != nil {
			log.Fatalf("listen for datagrams: %v", err)
		}
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			slog.Info("metrics endpoint up", "addr", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				slog.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	loop.Post(mgr.ConnectAll)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		slog.Info("shutdown signal received", "signal", s.String())
		if listener != nil {
			listener.Close()
		}
		if udp != nil {
			udp.Close()
		}
		loop.Post(func() {
			mgr.Close()
			loop.Stop()
		})
	}()

	slog.Info("dcd running", "version", version, "hubs", len(cfg.Hubs), "active", cfg.Active)
	loop.Run()
}

// logEvents routes hub activity into the structured log. A richer frontend
// would subscribe here instead.
type logEvents struct {
	log *slog.Logger
}

func (e *logEvents) StateChanged(h *hub.Hub, s hub.State) {
	e.log.Info("hub state", "hub", h.Name(), "state", s.String())
}

func (e *logEvents) Chat(h *hub.Hub, from, text string) {
	e.log.Info("chat", "hub", h.Name(), "from", from, "text", text)
}

func (e *logEvents) PrivateChat(h *hub.Hub, from, text string) {
	// Private messages never reach the log in clear text.
	e.log.Info("private chat", "hub", h.Name(), "from", from, logging.MaskField("text", text))
}

func (e *logEvents) SearchResult(h *hub.Hub, raw string) {
	e.log.Debug("search result", "hub", h.Name(), "raw", raw)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
