// Command screen runs one screen process: it discovers the current leader
// robot and submits a loaded order file sequentially, per spec.md §4.5.
package main

import (
	"bufio"
	"context"
	"os"
	"strings"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	mbp "github.com/Rpetey317/heladeria/mainboilerplate"
	"github.com/Rpetey317/heladeria/orderfile"
	"github.com/Rpetey317/heladeria/screendriver"
	"github.com/Rpetey317/heladeria/task"
)

var Config = new(mbp.ScreenConfig)

func main() {
	var parser = flags.NewParser(Config, flags.Default)
	mbp.MustParseArgs(parser)
	Config.Log.Configure()

	var path = Config.Args.OrdersFile
	if path == "" {
		path = "orders.csv"
	}
	orders, err := orderfile.Load(path)
	mbp.Must(err, "failed to load order file")
	log.WithField("count", len(orders)).Info("loaded orders")

	var driver = screendriver.New(screendriver.Config{
		MinPort: Config.ScreenPortMin,
		MaxPort: Config.ScreenPortMax,
	}, orders)

	var tasks = task.NewGroup(context.Background())
	tasks.Queue("screen.driver", func() error {
		driver.Run(tasks.Context())
		return nil
	})
	tasks.Queue("screen.stdin", func() error {
		return stdinLoop(tasks.Context())
	})

	if err := tasks.Wait(); err != nil {
		log.WithError(err).Fatal("screen exited with error")
	}

	for i, st := range driver.States() {
		log.WithFields(log.Fields{"order": i, "state": st.String()}).Info("final order state")
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
