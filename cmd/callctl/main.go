// Command callctl, arama çekirdeğini terminalden süren headless client.
//
//	callctl listen            gelen aramaları bekle
//	callctl call <userID>     arama başlat
//	callctl history           arama geçmişi
//	callctl token --user u1   geliştirme için access token üret
//
// Ayarlar relay sunucusuyla aynı config'ten (CONFIG_FILE, .env, env) okunur.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/akinalp/mqvicall/config"
	"github.com/akinalp/mqvicall/models"
	"github.com/akinalp/mqvicall/pkg/logging"
	"github.com/akinalp/mqvicall/services"
	"github.com/akinalp/mqvicall/tokenclient"
)

func main() {
	cmd := &cli.Command{
		Name:  "callctl",
		Usage: "headless 1:1 call client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "yaml config file",
				Sources: cli.EnvVars("CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn, error",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "listen",
				Usage: "wait for incoming calls",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "auto-accept", Usage: "accept every invite"},
				},
				Action: runListen,
			},
			{
				Name:      "call",
				Usage:     "call a user",
				ArgsUsage: "<userID>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "video", Usage: "video call"},
				},
				Action: runCall,
			},
			{
				Name:  "history",
				Usage: "list recent calls",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20},
					&cli.TimestampFlag{
						Name:   "before",
						Config: cli.TimestampConfig{Layouts: []string{time.RFC3339}},
					},
				},
				Action: runHistory,
			},
			{
				Name:  "token",
				Usage: "issue a development access token (needs JWT_SECRET)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Required: true},
					&cli.StringFlag{Name: "name"},
					&cli.StringFlag{Name: "email"},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
				},
				Action: runToken,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Command) (*config.Config, *logrus.Entry, error) {
	if path := c.String("config"); path != "" {
		if err := os.Setenv("CONFIG_FILE", path); err != nil {
			return nil, nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	logger, err := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logrus.NewEntry(logger).WithField("component", "callctl"), nil
}

func runListen(ctx context.Context, c *cli.Command) error {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cl, err := newCallClient(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cl.Close()

	con := newConsole(cl.manager, os.Stdout)
	con.autoAccept = c.Bool("auto-accept")
	cl.manager.OnStateChange(con.onState)

	log.WithField("user", cfg.Client.UserID).Info("listening for calls (accept, reject, hangup, mic, cam, quit)")
	return con.run(ctx, os.Stdin, false)
}

func runCall(ctx context.Context, c *cli.Command) error {
	remote := c.Args().First()
	if remote == "" {
		return fmt.Errorf("usage: callctl call <userID>")
	}
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cl, err := newCallClient(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cl.Close()

	con := newConsole(cl.manager, os.Stdout)
	cl.manager.OnStateChange(con.onState)

	kind := models.CallKindAudio
	if c.Bool("video") {
		kind = models.CallKindVideo
	}
	if err := cl.manager.StartCall(ctx, remote, kind); err != nil {
		return fmt.Errorf("start call: %w", err)
	}
	return con.run(ctx, os.Stdin, true)
}

func runHistory(ctx context.Context, c *cli.Command) error {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.ValidateClient(); err != nil {
		return err
	}

	tokens, err := tokenclient.New(tokenclient.Config{
		BaseURL:     cfg.Client.APIURL,
		AccessToken: cfg.Client.AccessToken,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	defer tokens.Close()

	logs, err := tokens.History(ctx, int(c.Int("limit")), c.Timestamp("before"))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tDIRECTION\tPEER\tKIND\tOUTCOME\tDURATION")
	for _, l := range logs {
		direction, peer := "out", l.CalleeID
		if l.CalleeID == cfg.Client.UserID {
			direction, peer = "in", l.CallerID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			l.StartedAt.Local().Format("2006-01-02 15:04"), direction, peer, l.Kind, l.Outcome,
			l.Duration().Round(time.Second))
	}
	return w.Flush()
}

func runToken(_ context.Context, c *cli.Command) error {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	token, err := services.NewAuthService(cfg.JWT.Secret).IssueAccessToken(models.User{
		ID:          c.String("user"),
		Username:    c.String("user"),
		DisplayName: c.String("name"),
		Email:       c.String("email"),
	}, c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
