package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gr-butler/anemometer/bus"
	"github.com/gr-butler/anemometer/cache"
	"github.com/gr-butler/anemometer/config"
	"github.com/gr-butler/anemometer/db/postgres"
	"github.com/gr-butler/anemometer/device"
	"github.com/gr-butler/anemometer/env"
	"github.com/gr-butler/anemometer/flash"
	"github.com/gr-butler/anemometer/httpd"
	"github.com/gr-butler/anemometer/led"
	"github.com/gr-butler/anemometer/mqtt"
	"github.com/gr-butler/anemometer/netmon"
	"github.com/gr-butler/anemometer/ota"
	"github.com/gr-butler/anemometer/report"
	"github.com/gr-butler/anemometer/sensors"
	"github.com/gr-butler/anemometer/wind"
	"github.com/gr-butler/anemometer/wow"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/i2c/i2creg"

	logger "github.com/sirupsen/logrus"
)

const version = "GRB-Anemometer-0.2.0"

func main() {
	logger.Infof("Starting anemometer [%v]", version)

	args := env.Args{}
	args.Test = flag.Bool("test", false, "test mode, reports are logged but not sent")
	args.Verbose = flag.Bool("verbose", false, "debug logging")
	args.Speedon = flag.Bool("speed", false, "log every wind sample")
	args.Diron = flag.Bool("dir", true, "read the wind vane")
	args.Config = flag.String("config", "", "path to the YAML config file")
	args.Profile = flag.String("profile", "", "sampler profile, simple or statistics")
	args.FirmwareDir = flag.String("firmware", "", "firmware slot directory")
	flag.Parse()

	if *args.Verbose {
		logger.SetLevel(logger.DebugLevel)
	}
	if *args.Test {
		logger.Info("TEST MODE")
	}

	cfg, err := config.Load(*args.Config)
	if err != nil {
		logger.Errorf("Failed to load config [%v]", err)
		logger.Exit(1)
	}
	if *args.Profile != "" {
		if err := cfg.SetProfile(*args.Profile); err != nil {
			logger.Errorf("Invalid profile [%v]", err)
			logger.Exit(1)
		}
	}
	if *args.FirmwareDir != "" {
		cfg.Device.FirmwareDir = *args.FirmwareDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, args); err != nil && ctx.Err() == nil {
		logger.Errorf("Exiting [%v]", err)
		logger.Exit(1)
	}
	logger.Info("Exiting...")
}

func run(ctx context.Context, cfg *config.Config, args env.Args) error {
	fabric := bus.NewFabric()
	history := wind.NewHistory(wind.Config{
		GustLength:      cfg.Sampler.GustLength,
		SpeedLength:     cfg.Sampler.SpeedLength,
		DirectionLength: cfg.Sampler.DirectionLength,
		Calibration:     cfg.Sampler.Calibration,
	})

	store, err := flash.Open(cfg.Device.FirmwareDir)
	if err != nil {
		// a broken slot table must not be patched over
		return fmt.Errorf("flash store: %w", err)
	}
	restarter := &device.CommandRestarter{Command: cfg.Device.RestartCommand}

	windPin, err := sensors.OpenWindPin(cfg.Device.WindPin)
	if err != nil {
		return err
	}
	var direction sensors.DirectionSource = sensors.FixedDirection(0)
	if *args.Diron {
		if b, err := i2creg.Open(cfg.Device.I2CBus); err != nil {
			logger.Errorf("Failed to open I2C bus, wind direction disabled [%v]", err)
		} else {
			defer b.Close()
			if vane, err := sensors.NewVane(b); err == nil {
				direction = vane
			}
		}
	}

	mode := sensors.Statistics
	if cfg.Device.Profile == config.ProfileSimple {
		mode = sensors.LastValue
	}
	anemometer := sensors.NewAnemometer(sensors.AnemometerConfig{
		Interval:  cfg.Sampler.Interval,
		Mode:      mode,
		Edges:     windPin,
		Direction: direction,
		History:   history,
		Speedon:   *args.Speedon,
	})

	sinks, mqttClient, closeSinks := buildSinks(ctx, cfg, fabric, restarter, *args.Test)
	defer closeSinks()

	resolver, err := buildResolver(cfg.OTA)
	if err != nil {
		return err
	}
	updater := ota.NewUpdater(ota.Config{
		Flash:     store,
		Resolver:  resolver,
		Restarter: restarter,
	})

	monitor := &netmon.Monitor{
		Interface: cfg.Device.Interface,
		Interval:  cfg.Device.PollInterval,
		Network:   fabric.Network,
		OnFirstIP: store.MarkRunningValid,
	}
	web := &httpd.Server{Addr: cfg.HTTP.Addr, Version: version, History: history, Fabric: fabric}
	scheduler := &report.Scheduler{Interval: cfg.Report.Interval, Data: fabric.Data}
	publisher := &report.Publisher{DeviceID: cfg.Device.ID, Software: version, History: history, Sinks: sinks}
	status := led.NewLED("heartbeat", cfg.Device.LedPin)

	// subscribe before any task runs so no event is missed
	app := fabric.Application
	samplerEvents := app.MustSubscribe()
	otaEvents := app.MustSubscribe()
	schedulerEvents := app.MustSubscribe()
	publisherEvents := app.MustSubscribe()
	webEvents := app.MustSubscribe()
	ledEvents := app.MustSubscribe()
	netmonEvents := app.MustSubscribe()
	webNetwork := fabric.Network.MustSubscribe()
	reportData := fabric.Data.MustSubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return anemometer.Run(gctx, samplerEvents) })
	g.Go(func() error { return updater.Run(gctx, otaEvents, app) })
	g.Go(func() error { return scheduler.Run(gctx, schedulerEvents) })
	g.Go(func() error { return publisher.Run(gctx, reportData, publisherEvents) })
	g.Go(func() error { return web.Run(gctx, webNetwork, webEvents) })
	g.Go(func() error { return status.Heartbeat(gctx, env.HeartbeatInterval, ledEvents) })
	g.Go(func() error { return monitor.Run(gctx, netmonEvents) })
	if mqttClient != nil {
		mqttEvents := app.MustSubscribe()
		g.Go(func() error { return mqttClient.Run(gctx, mqttEvents) })
	}
	return g.Wait()
}

func buildSinks(ctx context.Context, cfg *config.Config, fabric *bus.Fabric, restarter ota.Restarter, testMode bool) ([]report.Sink, *mqtt.Client, func()) {
	var sinks []report.Sink
	var closers []func()
	var mqttClient *mqtt.Client

	if cfg.MQTT.Broker != "" {
		tlsCfg, err := loadTLS(cfg.MQTT.CAFile, cfg.MQTT.CertFile, cfg.MQTT.KeyFile)
		if err != nil {
			logger.Errorf("MQTT TLS config [%v]", err)
		} else {
			mqttClient = mqtt.New(mqtt.Config{
				Broker:      cfg.MQTT.Broker,
				ClientID:    cfg.Device.ID,
				Username:    cfg.MQTT.Username,
				Password:    cfg.MQTT.Password,
				TopicPrefix: cfg.MQTT.TopicPrefix,
				ReportTopic: cfg.MQTT.ReportTopic,
				QoS:         cfg.MQTT.QoS,
				TLS:         tlsCfg,
			}, fabric, restarter)
			if err := mqttClient.Connect(); err != nil {
				logger.Errorf("MQTT connect [%v]", err)
			}
			sinks = append(sinks, mqttClient)
		}
	}

	if testMode {
		logger.Info("Test mode, only MQTT reports are sent")
		return sinks, mqttClient, func() {}
	}

	if cfg.Postgres.DSN != "" {
		db, err := postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			logger.Errorf("Postgres disabled [%v]", err)
		} else {
			q := postgres.New(db)
			if err := q.CreateSchema(ctx); err != nil {
				logger.Errorf("Failed to create schema [%v]", err)
			}
			sinks = append(sinks, &postgres.Sink{Db: q})
			closers = append(closers, func() { db.Close() })
		}
	}

	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		if err != nil {
			logger.Errorf("Redis disabled [%v]", err)
		} else {
			sinks = append(sinks, rc)
			closers = append(closers, func() { rc.Close() })
		}
	}

	if cfg.WOW.SiteID != "" {
		sinks = append(sinks, &wow.Sink{
			SiteID:      cfg.WOW.SiteID,
			AuthKey:     cfg.WOW.AuthKey,
			Software:    version,
			MinInterval: cfg.WOW.MinInterval,
		})
	} else {
		logger.Warn("SiteId and or pin not set! WOWSITEID and WOWPIN must be set to send to the met office.")
	}

	return sinks, mqttClient, func() {
		for _, c := range closers {
			c()
		}
	}
}

func buildResolver(o config.OTAConfig) (*ota.Resolver, error) {
	r := &ota.Resolver{Bucket: o.Bucket}
	if !o.S3Enabled() {
		return r, nil
	}
	cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("ota client certificate: %w", err)
	}
	roots, err := loadRoots(o.CAFile)
	if err != nil {
		return nil, err
	}
	r.Presigner = &ota.Presigner{
		Credentials: ota.NewCredentialProvider(o.CredentialEndpoint, o.RoleAlias, o.ThingName, cert, roots),
		Region:      o.Region,
		Lifetime:    o.URLLifetime,
	}
	return r, nil
}

func loadTLS(caFile, certFile, keyFile string) (*tls.Config, error) {
	if caFile == "" && certFile == "" {
		return nil, nil
	}
	roots, err := loadRoots(caFile)
	if err != nil {
		return nil, err
	}
	c := &tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12}
	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, err
		}
		c.Certificates = []tls.Certificate{cert}
	}
	return c, nil
}

func loadRoots(caFile string) (*x509.CertPool, error) {
	if caFile == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %v", caFile)
	}
	return pool, nil
}
