// Command robot runs one robot process: it joins the peer mesh, takes part
// in bully election, and forwards screen orders to the shop while leader,
// per spec.md §4.3/§4.4.
package main

import (
	"bufio"
	"context"
	"os"
	"strings"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	mbp "github.com/Rpetey317/heladeria/mainboilerplate"
	"github.com/Rpetey317/heladeria/robotforwarder"
	"github.com/Rpetey317/heladeria/robotmesh"
	"github.com/Rpetey317/heladeria/task"
)

var Config = new(mbp.RobotConfig)

func main() {
	var parser = flags.NewParser(Config, flags.Default)
	mbp.MustParseArgs(parser)
	Config.Log.Configure()

	var tasks = task.NewGroup(context.Background())

	var fwd *robotforwarder.Forwarder
	var mesh = robotmesh.New(robotmesh.Config{
		PeerID:     Config.Args.PeerPort,
		ScreenPort: Config.Args.ScreenPort,
		MinPort:    Config.PeerPortMin,
		MaxPort:    Config.PeerPortMax,
		OnLeader: func(peerLeaderID, screenLeaderID uint32) {
			// Step 5 of spec.md §4.3: a new leader announcement closes every
			// currently-open screen session so screens reconnect and
			// rediscover it.
			if fwd != nil {
				fwd.CloseScreenSessions()
			}
		},
	})
	fwd = robotforwarder.New(robotforwarder.Config{
		ScreenPort: Config.Args.ScreenPort,
		ShopAddr:   Config.ShopAddr,
		Leader:     mesh,
	})

	tasks.Queue("robot.mesh.listen", func() error {
		return mesh.ListenAndServe(tasks.Context())
	})
	tasks.Queue("robot.mesh.run", func() error {
		mesh.Run(tasks.Context())
		return nil
	})
	tasks.Queue("robot.mesh.bootstrap", func() error {
		mesh.Bootstrap(tasks.Context())
		return nil
	})
	tasks.Queue("robot.forwarder", func() error {
		return fwd.Run(tasks.Context())
	})
	tasks.Queue("robot.stdin", func() error {
		return stdinLoop(tasks.Context())
	})

	log.WithFields(log.Fields{
		"peer_id":     Config.Args.PeerPort,
		"screen_port": Config.Args.ScreenPort,
	}).Info("robot starting")

	if err := tasks.Wait(); err != nil {
		log.WithError(err).Fatal("robot exited with error")
	}
}

func stdinLoop(ctx context.Context) error {
	var scanner = bufio.NewScanner(os.Stdin)
	var lines = make(chan string)
	go func() {
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok || line == "q" {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}
