// Command corosyncd runs one node of a totem cluster: it loads a TOML
// cluster profile, binds the UDP multicast transport, and drives Totem
// SRP and TotemPG from a single cooperative event loop until a signal
// requests shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/corosync/corosync-sub008/config"
	corosync "github.com/corosync/corosync-sub008"
	"github.com/corosync/corosync-sub008/icmap"
	"github.com/corosync/corosync-sub008/internal/loop"
	"github.com/corosync/corosync-sub008/internal/logging"
	"github.com/corosync/corosync-sub008/internal/totempg"
	"github.com/corosync/corosync-sub008/internal/totemsrp"
	"github.com/corosync/corosync-sub008/internal/transport"
	"github.com/corosync/corosync-sub008/zlog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "corosyncd:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "/etc/corosync/cluster.toml", "path to the cluster profile")
		nodeID     = flag.Uint("node-id", 0, "this node's id in the cluster profile")
		stateDir   = flag.String("state-dir", "/var/lib/corosyncd", "directory for persisted ring identity")
		pretty     = flag.Bool("pretty", false, "use zerolog's console writer instead of JSON")
	)
	flag.Parse()

	if _, err := maxprocs.Set(); err != nil {
		return fmt.Errorf("setting GOMAXPROCS: %w", err)
	}

	log := zlog.New(os.Stderr, *pretty)
	worker := logging.NewWorker(log)
	defer worker.Close()

	profile, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	icm := icmap.New()
	if err := profile.PushToICMap(icm); err != nil {
		return fmt.Errorf("installing totem.* keys: %w", err)
	}
	stats := icmap.NewStatsMap()

	transportCfg, err := profile.TransportConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(*stateDir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	ringStore := totemsrp.NewFileRingIDStore(*stateDir)

	lp, err := loop.New()
	if err != nil {
		return err
	}
	defer lp.Close()

	node := uint32(*nodeID)
	pg := totempg.New(node, transportCfg.MTU, func(g totempg.Group, from uint32, msg []byte) {
		worker.Log(corosync.LevelInfo, "TOTEMPG", "Deliver", "group", g.Name, "from", from, "bytes", len(msg))
	}, func(ev totemsrp.ConfigChangeEvent) {
		worker.Log(corosync.LevelNotice, "TOTEM", "ConfChg", "kind", ev.Kind, "ring_seq", ev.RingID.Seq, "members", ev.Members)
	})

	var srp *totemsrp.Instance
	tr, err := transport.NewUDP(transportCfg, transport.Callbacks{
		Deliver: func(msg []byte, from net.Addr) { srp.HandleInbound(msg, from) },
	})
	if err != nil {
		return fmt.Errorf("binding transport: %w", err)
	}
	defer tr.Close()

	srp, err = totemsrp.New(node, profile.TotemConfig(), tr, lp, stats, ringStore, pg.Deliver, pg.ConfChg)
	if err != nil {
		return fmt.Errorf("constructing totem instance: %w", err)
	}
	pg.SetOriginator(srp)

	if fder, ok := tr.(interface{ FD() int }); ok {
		if err := lp.PollAdd(fder.FD(), loop.EventRead, func(loop.IOEvent) {
			if err := tr.RecvFlush(); err != nil {
				worker.Log(corosync.LevelError, "TRANSPORT", "RecvFlush", "err", err.Error())
			}
		}); err != nil {
			return fmt.Errorf("registering transport fd: %w", err)
		}
	}

	srp.Join(profile.MemberIDs())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Log(corosync.LevelInfo, "MAIN", "run", "msg", "event loop starting", "node_id", node)
		return lp.Run()
	})
	g.Go(func() error {
		<-gctx.Done()
		lp.Stop()
		return nil
	})

	return g.Wait()
}
