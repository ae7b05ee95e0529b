package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/WhileEndless/go-reverse-proxy/internal/config"
	"github.com/WhileEndless/go-reverse-proxy/internal/dispatcher"
	"github.com/WhileEndless/go-reverse-proxy/internal/logging"
	"github.com/WhileEndless/go-reverse-proxy/internal/netutil"
	"github.com/WhileEndless/go-reverse-proxy/internal/tlsconfig"
)

func main() {
	configPath := flag.String("config", "/etc/reverseproxyd/config.yaml", "path to the proxy config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	listenFD, err := bindListener(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to bind listener")
	}

	upstreamAddr, err := netutil.ResolveUpstream(cfg.Upstream)
	if err != nil {
		logger.WithError(err).Fatal("failed to resolve upstream")
	}

	d, err := dispatcher.New(cfg, listenFD, upstreamAddr, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to build dispatcher")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("received signal, shutting down")
		d.Shutdown()
	}()

	logger.WithField("port", cfg.Listen.Port).WithField("upstream", cfg.Upstream).Info("reverse proxy listening")
	if err := d.Run(); err != nil {
		logger.WithError(err).Fatal("dispatcher exited with error")
	}
}

// bindListener returns the raw, non-blocking fd the dispatcher's epoll loop
// should register. With TLS disabled that is cfg.Listen.Port directly. With
// TLS enabled, cfg.Listen.Port is instead handed to a blocking TLS front end
// (internal/tlsconfig.RunFrontend) that terminates TLS and forwards
// plaintext bytes to a loopback-only listener, whose fd is what the
// dispatcher actually sees.
func bindListener(cfg *config.Config, logger *logrus.Logger) (int, error) {
	if !cfg.Listen.TLS.Enabled {
		return netutil.Listen(cfg.Listen.Port, cfg.Listen.AcceptAll)
	}

	profile, err := tlsconfig.ProfileByName(cfg.Listen.TLS.Profile)
	if err != nil {
		return -1, fmt.Errorf("main: %w", err)
	}
	tlsCfg, err := tlsconfig.NewServerConfig(cfg.Listen.TLS.CertFile, cfg.Listen.TLS.KeyFile, profile)
	if err != nil {
		return -1, fmt.Errorf("main: %w", err)
	}

	loopbackFD, err := netutil.Listen(0, false)
	if err != nil {
		return -1, fmt.Errorf("main: binding dispatcher loopback listener: %w", err)
	}
	loopbackPort, err := netutil.LocalPort(loopbackFD)
	if err != nil {
		return -1, fmt.Errorf("main: %w", err)
	}

	publicAddr := net.JoinHostPort("", strconv.Itoa(cfg.Listen.Port))
	if !cfg.Listen.AcceptAll {
		publicAddr = net.JoinHostPort("::1", strconv.Itoa(cfg.Listen.Port))
	}
	loopbackAddr := net.JoinHostPort("::1", strconv.Itoa(loopbackPort))

	go func() {
		if err := tlsconfig.RunFrontend(publicAddr, loopbackAddr, tlsCfg, logger); err != nil {
			logger.WithError(err).Fatal("tls front end exited")
		}
	}()

	return loopbackFD, nil
}
