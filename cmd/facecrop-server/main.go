// Command facecrop-server serves the face crop pipeline over HTTP.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/labstack/gommon/log"
	"github.com/nvr-ai/facecrop/config"
	"github.com/nvr-ai/facecrop/inference"
	"github.com/nvr-ai/facecrop/server"
	"github.com/nvr-ai/facecrop/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultListenAddr is used when neither --listen nor LISTEN_ADDR is set.
	DefaultListenAddr = ":1323"
	// ShutdownTimeout bounds how long in-flight requests may run after a signal.
	ShutdownTimeout = 10 * time.Second
)

// echoLevels maps logrus levels onto the echo logger.
var echoLevels = map[logrus.Level]log.Lvl{
	logrus.TraceLevel: log.DEBUG,
	logrus.DebugLevel: log.DEBUG,
	logrus.InfoLevel:  log.INFO,
	logrus.WarnLevel:  log.WARN,
}

func main() {
	if err := run(os.Args); err != nil {
		logrus.WithError(err).Fatal("facecrop-server stopped")
	}
}

func run(args []string) error {
	cfg := config.Default()
	if path := config.PathFromArgs(args); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	parser := argparse.NewParser("facecrop-server", "Serve face cropping over HTTP")
	parser.String("c", "config", &argparse.Options{Help: "YAML configuration file"})
	listen := parser.String("l", "listen", &argparse.Options{Help: "Listen address (default $LISTEN_ADDR or " + DefaultListenAddr + ")"})
	model := parser.String("m", "model", &argparse.Options{Help: "Path to the ONNX face detector", Default: cfg.ModelPath})
	logLevel := parser.String("", "log-level", &argparse.Options{Help: "Log level", Default: cfg.LogLevel})
	if err := parser.Parse(args); err != nil {
		return errors.New(parser.Usage(err))
	}
	cfg.ModelPath = *model
	cfg.LogLevel = *logLevel

	logger, err := util.NewLogger(cfg.LogLevel, nil)
	if err != nil {
		return err
	}
	if err := cfg.ValidateModel(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	session, err := inference.NewSessionBuilder().
		WithEngine(cfg.Engine).
		WithProvider(cfg.Provider).
		WithLayout(cfg.OutputLayout).
		WithModel(cfg.ModelPath).
		Build()
	if err != nil {
		return errors.Wrapf(err, "load model %s", cfg.ModelPath)
	}
	defer session.Close()

	srv, err := server.New(session, cfg, logger)
	if err != nil {
		return err
	}
	e := srv.Echo()
	lvl, ok := echoLevels[logger.GetLevel()]
	if !ok {
		lvl = log.ERROR
	}
	e.Logger.SetLevel(lvl)

	addr := *listen
	if addr == "" {
		addr = os.Getenv("LISTEN_ADDR")
	}
	if addr == "" {
		addr = DefaultListenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	return server.Shutdown(e, ShutdownTimeout)
}
