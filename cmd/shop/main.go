// Command shop runs the ice cream shop process: it owns the Stock Engine
// and accepts robot connections, one Order Router per session, per
// spec.md §4.1/§4.2.
package main

import (
	"bufio"
	"context"
	"net"
	"os"
	"strings"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	mbp "github.com/Rpetey317/heladeria/mainboilerplate"
	"github.com/Rpetey317/heladeria/shoprouter"
	"github.com/Rpetey317/heladeria/stock"
	"github.com/Rpetey317/heladeria/task"
	"github.com/Rpetey317/heladeria/wire"
)

var Config = new(mbp.ShopConfig)

func main() {
	var parser = flags.NewParser(Config, flags.Default)
	mbp.MustParseArgs(parser)
	Config.Log.Configure()

	engine, err := stock.NewEngine(stock.Config{
		InventoryPath:           Config.Inventory,
		BackupDir:               Config.BackupDir,
		BackupFilePrefix:        Config.BackupFilePrefix,
		MaxConfirmsBeforeBackup: Config.BackupFrequency,
	})
	mbp.Must(err, "failed to load inventory")

	ln, err := net.Listen("tcp", Config.ListenAddr)
	mbp.Must(err, "failed to bind shop listener")
	log.WithField("addr", Config.ListenAddr).Info("shop listening")

	var tasks = task.NewGroup(context.Background())

	tasks.Queue("shop.accept", func() error {
		return acceptLoop(tasks.Context(), ln, engine)
	})
	tasks.Queue("shop.stdin", func() error {
		return stdinLoop(tasks.Context(), engine)
	})

	go func() {
		<-tasks.Context().Done()
		ln.Close()
	}()

	if err := tasks.Wait(); err != nil {
		log.WithError(err).Fatal("shop exited with error")
	}
}

func acceptLoop(ctx context.Context, ln net.Listener, engine *stock.Engine) error {
	for {
		netConn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go serveRobotSession(ctx, netConn, engine)
	}
}

func serveRobotSession(ctx context.Context, netConn net.Conn, engine *stock.Engine) {
	var conn = wire.NewConn(netConn)
	defer conn.Close()

	var sessionLog = log.WithField("robot", conn.RemoteAddr())
	sessionLog.Info("robot session opened")

	var router = shoprouter.New(engine, func(r wire.OrderResult) error { return conn.Send(r) })
	var sessionCtx, cancel = context.WithCancel(ctx)
	defer cancel()
	go router.Run(sessionCtx)

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			sessionLog.WithError(err).Info("robot session closed")
			return
		}
		msg, err := wire.DecodeShopRequest(frame)
		if err != nil {
			sessionLog.WithError(err).Debug("malformed shop request, dropping")
			continue
		}
		order, ok := msg.(wire.IceCreamOrder)
		if !ok {
			continue
		}
		router.MakeOrder(shoprouter.MakeOrderRequest{
			Flavors:       order.IceCreamOrder.Flavors,
			Size:          order.IceCreamOrder.Size,
			ScreenID:      order.IceCreamOrder.ScreenID,
			ScreenAddress: order.IceCreamOrder.ScreenAddress,
		})
	}
}

// stdinLoop implements the shop's CLI surface per spec.md §6: `q` exits,
// `b` triggers a manual backup.
func stdinLoop(ctx context.Context, engine *stock.Engine) error {
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
			if !ok {
				return nil
			}
			switch line {
			case "q":
				return nil
			case "b":
				var filename = Config.BackupFilePrefix + "-manual.csv"
				if err := engine.Backup(Config.BackupDir, filename); err != nil {
					log.WithError(err).Warn("manual backup failed")
				}
			}
		case <-ctx.Done():
			return nil
		}
	}
}
