package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/urfave/cli/v2"

	"codemate-api/handler"
	"codemate-api/internal/config"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "codemate-api",
		Usage:   "CodeMate conversational coding assistant backend",
		Version: version,
		Commands: []*cli.Command{
			lambdaCommand(),
			serveCommand(),
		},
		// Lambda invokes the binary without arguments.
		DefaultCommand: "lambda",
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("codemate-api failed", "err", err)
		os.Exit(1)
	}
}

func lambdaCommand() *cli.Command {
	return &cli.Command{
		Name:  "lambda",
		Usage: "Serve API Gateway proxy events inside AWS Lambda",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			h, err := buildHandler(c.Context, cfg)
			if err != nil {
				return err
			}
			lambda.Start(h.Handle)
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run a standalone HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen on `ADDR`, overriding CODEMATE_HTTP_ADDR",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr := c.String("addr"); addr != "" {
				cfg.HTTPAddr = addr
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			h, err := buildHandler(ctx, cfg)
			if err != nil {
				return err
			}
			srv := handler.NewServer(h, cfg.HTTPAddr,
				handler.WithRequestTimeout(time.Duration(cfg.RequestTimeoutSecs)*time.Second),
			)
			return srv.Run(ctx)
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
