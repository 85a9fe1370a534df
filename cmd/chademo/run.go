package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	chademo "github.com/samsamfire/gochademo"
	"github.com/samsamfire/gochademo/internal/telemetry"
	"github.com/samsamfire/gochademo/pkg/can"
	"github.com/samsamfire/gochademo/pkg/config"
	"github.com/samsamfire/gochademo/pkg/controller"
	"github.com/samsamfire/gochademo/pkg/frames"
	"github.com/samsamfire/gochademo/pkg/machine"
	"github.com/samsamfire/gochademo/pkg/session"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath   string
	canInterface string
	canChannel   string
	roleName     string
	metricsAddr  string
	socFlag      uint8
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one side of a session on a CAN bus",
	Long: `Run the charger or vehicle protocol on a CAN bus until interrupted.

Settings are read from an INI file (see "chademo defaults"), command line
flags take precedence. The connector is considered latched and the local
contactors closed, the session starts as soon as the peer is heard.`,
	RunE: runSession,
}

var defaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Print the default settings of a role as an INI file",
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := session.ParseRole(roleName)
		if err != nil {
			return err
		}
		return config.Export(config.Default(role), cmd.OutOrStdout())
	},
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "INI settings file")
	runCmd.Flags().StringVarP(&canInterface, "interface", "i", "", fmt.Sprintf("CAN interface %v", can.AvailableInterfaces()))
	runCmd.Flags().StringVar(&canChannel, "channel", "", "CAN channel e.g. can0 or localhost:18888")
	runCmd.Flags().StringVarP(&roleName, "role", "r", "charger", "Local side, charger or vehicle (without config file)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics", "", "Serve prometheus metrics on this address e.g. :9100")
	runCmd.Flags().Uint8Var(&socFlag, "soc", 50, "Reported state of charge (vehicle)")
	defaultsCmd.Flags().StringVarP(&roleName, "role", "r", "charger", "charger or vehicle")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(defaultsCmd)
}

func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	var settings *config.Settings
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		settings = loaded
	} else {
		role, err := session.ParseRole(roleName)
		if err != nil {
			return nil, err
		}
		defaults := config.Default(role)
		settings = &defaults
	}
	if cmd.Flags().Changed("interface") {
		settings.Interface = canInterface
	}
	if cmd.Flags().Changed("channel") {
		settings.Channel = canChannel
	}
	return settings, nil
}

func serveMetrics(ctx context.Context, c *controller.Controller) (*telemetry.Collector, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	collector, err := telemetry.NewCollector(c, reg)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Infof("[METRICS] serving on %v", metricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("[METRICS] server stopped | %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	return collector, nil
}

func runSession(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	bus, err := can.NewBus(settings.Interface, settings.Channel, settings.Bitrate)
	if err != nil {
		return err
	}
	bm := chademo.NewBusManager(bus)
	if err := bm.Connect(); err != nil {
		return err
	}
	defer bm.Disconnect()

	m, err := machine.New(settings.Machine)
	if err != nil {
		return err
	}
	c, err := controller.New(bm, chademo.SystemClock{}, m)
	if err != nil {
		return err
	}
	c.UpdateInputs(machine.Inputs{
		ConnectorLatched: true,
		ContactorsClosed: true,
		Ready:            true,
		SoC:              frames.Percent(socFlag),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var collector *telemetry.Collector
	if metricsAddr != "" {
		collector, err = serveMetrics(ctx, c)
		if err != nil {
			return err
		}
	}
	c.OnPhaseChange(func(from session.Phase, to session.Phase) {
		if collector != nil {
			collector.ObservePhaseChange(from, to)
		}
	})

	log.Infof("[CHADEMO] running %v on %v (%v)", settings.Machine.Role, settings.Channel, settings.Interface)
	err = c.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
