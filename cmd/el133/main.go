package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"el133/internal/battery"
	"el133/internal/config"
	"el133/internal/display"
	"el133/internal/frame"
	appLog "el133/internal/log"
	"el133/internal/panel"
	"el133/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	transport  string
	image      string
	dumpDir    string
	pattern    string
	post       string
	once       bool
	clear      bool
	fit        bool
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("el133 starting", "version", "0.1.0")

	conf, err := loadConfig(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := applyFlags(conf, flags); err != nil {
		appLog.Error("invalid flags", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Client mode never touches local hardware.
	if flags.post != "" {
		client := &http.Client{Timeout: postTimeout}
		if err := postImage(ctx, client, flags.post, conf.Source.ImagePath, conf.BasicAuth); err != nil {
			appLog.Error("el133 failed", err)
			os.Exit(1)
		}
		return
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"transport", conf.Transport,
		"spi_port", conf.SPI.Port,
		"refresh", conf.RefreshCron,
		"image", conf.Source.ImagePath,
		"capture_url", conf.Source.CaptureURL,
		"once", flags.once,
		"clear", flags.clear,
		"pattern", flags.pattern,
		"dump", flags.dumpDir,
	)

	drv, err := display.Open(conf)
	if err != nil {
		appLog.Error("failed to open display", err, "transport", conf.Transport)
		os.Exit(1)
	}
	p := panel.New(drv)
	defer p.Close()

	if flags.once || flags.clear || flags.pattern != "" {
		if err := runOnce(ctx, conf, p, flags); err != nil {
			appLog.Error("el133 failed", err)
			p.Close()
			os.Exit(1)
		}
		appLog.Info("el133 done")
		return
	}

	if err := serve(ctx, conf, p); err != nil {
		appLog.Error("el133 failed", err)
		p.Close()
		os.Exit(1)
	}
	appLog.Info("el133 exiting")
}

// loadConfig loads path. When only writing the first-run default file
// failed, the defaults are still usable and startup continues.
func loadConfig(path string) (*config.Config, error) {
	conf, err := config.Load(path)
	if err != nil && conf != nil {
		appLog.Warn("running on default config; could not write it", "config_path", path, "err", err)
		return conf, nil
	}
	return conf, err
}

// runOnce handles -clear, -pattern and -once. A refresh that has started is
// not interrupted by a signal; the process exits once it completes.
func runOnce(ctx context.Context, conf *config.Config, p *panel.Panel, flags flagConfig) error {
	switch {
	case flags.clear:
		if err := p.Clear(); err != nil {
			return err
		}
	case flags.pattern != "":
		err := p.Paint("pattern:"+flags.pattern, func(d *display.Driver) error {
			return drawPattern(d, flags.pattern)
		})
		if err != nil {
			return err
		}
	default:
		f, label, err := panel.LoadSource(ctx, conf.Source, nil)
		if err != nil {
			return err
		}
		if err := p.Display(f, label); err != nil {
			return err
		}
	}
	if flags.dumpDir != "" {
		return dumpArtifacts(flags.dumpDir, p)
	}
	return nil
}

// serve runs the HTTP API and the refresh schedule until ctx is cancelled.
// Shutdown waits for a refresh in flight to finish.
func serve(ctx context.Context, conf *config.Config, p *panel.Panel) error {
	load := func(ctx context.Context) (*frame.Buffer, string, error) {
		return panel.LoadSource(ctx, conf.Source, nil)
	}

	sched, err := newScheduler(conf.RefreshCron, scheduledRefresh(p, load))
	if err != nil {
		return err
	}
	if sched != nil {
		sched.Start()
		appLog.Info("refresh schedule enabled", "cron", conf.RefreshCron)
	}

	var loader web.SourceLoader
	if !conf.Source.Empty() {
		loader = load
	}
	bat := openBattery(conf)
	if c, ok := bat.(interface{ Close() error }); ok {
		defer c.Close()
	}
	srv := web.NewServer(conf, p, loader, bat).NewHTTPServer()

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("HTTP shutdown incomplete", "err", err)
	}
	if sched != nil {
		<-sched.Stop().Done()
	}
	return serveErr
}

// scheduledRefresh returns the cron job that redraws the configured source.
func scheduledRefresh(p *panel.Panel, load web.SourceLoader) func() {
	return func() {
		// Scheduled refreshes are not tied to a request; give captures their
		// own deadline.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		f, label, err := load(ctx)
		if err != nil {
			appLog.Error("scheduled refresh: load source failed", err)
			return
		}
		if err := p.Display(f, label); err != nil {
			appLog.Error("scheduled refresh failed", err, "source", label)
		}
	}
}

// openBattery returns the configured battery reader, or nil. A board that
// cannot be opened is logged and left out rather than failing startup.
func openBattery(conf *config.Config) battery.Reader {
	if !conf.Battery.Enabled {
		return nil
	}
	if conf.Transport == config.TransportFake {
		return battery.Static{Percent: 100, VoltageMv: 4200}
	}
	r, err := battery.OpenPiSugar(conf.Battery.I2CBus, conf.Battery.Addr)
	if err != nil {
		appLog.Warn("battery reader unavailable", "err", err)
		return nil
	}
	return r
}

func applyFlags(conf *config.Config, flags flagConfig) error {
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.transport != "" {
		conf.Transport = flags.transport
	}
	if flags.image != "" {
		conf.Source.ImagePath = flags.image
		conf.Source.CaptureURL = ""
	}
	if flags.fit {
		conf.Source.Fit = true
	}
	if !flags.debug {
		appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	}
	modes := 0
	for _, on := range []bool{flags.once, flags.clear, flags.pattern != "", flags.post != ""} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		return errors.New("-once, -clear, -pattern and -post are mutually exclusive")
	}
	if flags.pattern != "" && flags.pattern != patternStripes {
		return fmt.Errorf("unknown -pattern %q (want %s)", flags.pattern, patternStripes)
	}
	if flags.post != "" && conf.Source.ImagePath == "" {
		return errors.New("-post needs -image or source.image_path")
	}
	return conf.Validate()
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/el133/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.transport, "transport", "", "Panel transport: periph, ftdi or fake (overrides config if set)")
	flag.StringVar(&cfg.image, "image", "", "Image file to display (overrides the configured source)")
	flag.StringVar(&cfg.dumpDir, "dump", "", "Write a.bin, b.bin and preview.png to this directory after -once or -clear")
	flag.StringVar(&cfg.pattern, "pattern", "", "Show a test pattern (stripes) and exit")
	flag.StringVar(&cfg.post, "post", "", "Send the image to a running server at this base URL instead of the local panel")
	flag.BoolVar(&cfg.once, "once", false, "Display the configured source once and exit")
	flag.BoolVar(&cfg.clear, "clear", false, "Clear the panel to white and exit")
	flag.BoolVar(&cfg.fit, "fit", false, "Resize source images that are not 1600x1200")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
