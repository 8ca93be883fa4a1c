// Command pdecho is a minimal demonstration of the PD engine: it opens
// one session, publishes a telegram to a loopback multicast group,
// subscribes to the same telegram, and logs every reception until
// interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/stdr"

	"github.com/railcomm/trdp-pd/pkg/pd"
	"github.com/railcomm/trdp-pd/pkg/pdlog"
)

func main() {
	configPath := flag.String("config", "demo.yaml", "path to the YAML demo configuration")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	stdr.SetVerbosity(0)
	if *verbose {
		stdr.SetVerbosity(1)
	}
	pdlog.SetLogger(stdr.New(nil))

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "pdecho:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	sess, err := pd.NewSession(cfg.Session)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	var received int
	subHandle, err := sess.Subscribe(pd.SubParams{
		ComId:           cfg.SubscribeComId,
		SrcIPLo:         cfg.SubscribeFrom,
		SrcIPHi:         cfg.SubscribeFrom,
		DestIP:          cfg.PublishDestIP,
		Timeout:         cfg.SubscribeTimeo,
		TimeoutBehavior: pd.KeepLastValue,
		Flags:           pd.FlagCallback,
		RecvCB: func(info pd.PDInfo) {
			received++
			pdlog.L.Info("received", "comId", info.ComId, "seq", info.SeqCount, "payload", string(info.Payload))
		},
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sess.Unsubscribe(subHandle)

	pubHandle, err := sess.Publish(pd.PubParams{
		SrcIP:    cfg.Session.OwnIP,
		DestIP:   cfg.PublishDestIP,
		ComId:    cfg.PublishComId,
		Interval: cfg.PublishInterval,
		Flags:    pd.FlagCallback,
		PreSendCB: func(info pd.PDInfo) {
			pdlog.L.V(1).Info("sending", "comId", info.ComId, "seq", info.SeqCount)
		},
	})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	defer sess.Unpublish(pubHandle)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	counter := 0
	for {
		select {
		case <-ctx.Done():
			pdlog.L.Info("stopping", "received", received)
			return nil
		case <-ticker.C:
			counter++
			_ = sess.Put(pubHandle, []byte(fmt.Sprintf("tick-%d", counter)))
			if err := sess.Process(); err != nil {
				pdlog.L.Error(err, "process cycle failed")
			}
		}
	}
}
