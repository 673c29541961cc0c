package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/urfave/cli/v2"

	"tweetfeeder/internal/app"
	"tweetfeeder/internal/config"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "./config.json",
		Usage:   "Path to the config file (.json, .yaml or .toml)",
		EnvVars: []string{"TWEETFEEDER_CONFIG"},
	}
}

func rootApp() *cli.App {
	return &cli.App{
		Name:  "feeder",
		Usage: "Publish a curated feed on a daily schedule",
		Description: `Publishes the items of a JSON feed at fixed times of day, one batch
per fire, and remembers its position across restarts.

Inbound activity (replies, quotes, DMs) can be watched on a websocket stream
and forwarded to the operator as alerts.

Flags can be set via environment variables, e.g.:

--config => TWEETFEEDER_CONFIG=/etc/tweetfeeder/config.yaml`,
		Flags: []cli.Flag{configFlag()},
		Commands: []*cli.Command{
			runCmd(),
			statusCmd(),
			checkCmd(),
		},
		Action: runAction,
	}
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Run the publisher until interrupted or the feed is exhausted",
		Flags:  []cli.Flag{configFlag()},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.NewApp(c.String("config"))
	if err != nil {
		return err
	}
	if err := a.Start(c.Context); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	reason := app.StopIdle
	select {
	case sig := <-sigs:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	return a.Err()
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Print the cursor, next fire time and recent events",
		Flags: []cli.Flag{
			configFlag(),
			&cli.IntFlag{
				Name:    "events",
				Aliases: []string{"n"},
				Value:   10,
				Usage:   "Number of recent events to show",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.NewConfigManager(c.String("config")).Load()
			if err != nil {
				return err
			}
			st, err := app.ReadStatus(c.Context, cfg, time.Now(), c.Int("events"))
			if err != nil {
				return err
			}
			if c.Bool("json") {
				enc := json.NewEncoder(c.App.Writer)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "feed index:  %d of %d\n", st.FeedIndex, st.FeedLength)
			fmt.Fprintf(w, "recorded:    %d published ids\n", st.Recorded)
			if st.NextFire != nil {
				fmt.Fprintf(w, "next fire:   %s\n", st.NextFire.Format("2006-01-02 15:04 MST"))
			} else {
				fmt.Fprintln(w, "next fire:   none")
			}
			for _, e := range st.Recent {
				fmt.Fprintf(w, "%s %-5s %-18s: %s\n", e.At.Format(time.DateTime), e.Severity, e.Category, e.Text)
			}
			return nil
		},
	}
}

func checkCmd() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Validate the config and the feed it points at",
		Flags: []cli.Flag{configFlag()},
		Action: func(c *cli.Context) error {
			rep, err := app.Check(c.Context, c.String("config"))
			if err != nil {
				return err
			}
			w := c.App.Writer
			times := "none"
			if len(rep.Times) > 0 {
				times = strings.Join(rep.Times, ", ")
			}
			fmt.Fprintf(w, "driver:   %s\n", rep.Driver)
			fmt.Fprintf(w, "feed:     %d items in %d batches\n", rep.Items, rep.Batches)
			fmt.Fprintf(w, "times:    %s (%s)\n", times, rep.Location)
			fmt.Fprintf(w, "alerts:   %s\n", strings.Join(rep.Alerts, ", "))
			fmt.Fprintln(w, "ok")
			return nil
		},
	}
}
