package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tarm/serial"
)

// rootOptions holds the flag values of one command instance.
type rootOptions struct {
	configPath string
	port       string
	baud       int
	debug      bool
	logFile    string
	brokerURL  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return newRelayCmd(&rootOptions{})
}

func newRelayCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "motor-relay",
		Short: "Drive a two-motor controller over serial from the keyboard",
		Long: `Hold w/s to run motor 1 forward/reverse and a/d for motor 2.
e and q step the speed up and down. esc stops both motors and exits.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVarP(&opts.port, "port", "p", DefaultPort, "serial port")
	cmd.Flags().IntVarP(&opts.baud, "baud", "b", DefaultBaud, "serial baud rate")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "enable debug messages on the console")
	cmd.Flags().StringVar(&opts.logFile, "log-file", DefaultLogFile, "append log file")
	cmd.Flags().StringVar(&opts.brokerURL, "broker-url", "", "STOMP websocket URL to publish serial output to")
	return cmd
}

// loadSettings applies explicitly set flags over the file and environment.
func loadSettings(cmd *cobra.Command, opts *rootOptions) (Config, error) {
	config, err := LoadConfig(opts.configPath)
	if err != nil {
		return config, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		config.Port = opts.port
	}
	if flags.Changed("baud") {
		config.Baud = opts.baud
	}
	if flags.Changed("debug") {
		config.Debug = opts.debug
	}
	if flags.Changed("log-file") {
		config.LogFile = opts.logFile
	}
	if flags.Changed("broker-url") {
		config.BrokerURL = opts.brokerURL
	}

	return config, config.Validate()
}

func runRelay(cmd *cobra.Command, opts *rootOptions) error {
	config, err := loadSettings(cmd, opts)
	if err != nil {
		return err
	}

	var file io.Writer
	if len(config.LogFile) > 0 {
		logFile, err := OpenLogFile(config.LogFile)
		if err != nil {
			return fmt.Errorf("unable to open log file: %w", err)
		}
		defer logFile.Close()
		file = logFile
	}

	session := uuid.New().String()
	console := NewConsoleWriter(cmd.ErrOrStderr())
	log := NewLogger(console, file, config.Debug, session)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Opening connection to serial port")
	con, err := OpenConnection(&serial.Config{
		Name:        config.Port,
		Baud:        config.Baud,
		ReadTimeout: config.ReadTimeout,
		Size:        8,
	}, log)
	if err != nil {
		// main reports the error on the console
		log.WithError(err).Debug("Startup aborted")
		return err
	}

	relay := NewRelay(con, config.Keys, log)
	if len(config.BrokerURL) > 0 {
		attachTelemetry(ctx, relay, config, session, log)
	}

	input := NewTerminalInput(os.Stdin, config.ReleaseDelay).WithConsole(console)
	return relay.Run(ctx, input)
}

// attachTelemetry is best effort: an unreachable broker only disables
// publishing.
func attachTelemetry(ctx context.Context, relay *Relay, config Config, session string, log *logrus.Entry) {
	log.Info("Opening connection to STOMP server")
	stompConnection, err := NewStompConnection(ctx, config.BrokerURL, log)
	if err != nil {
		log.WithError(err).Warn("Telemetry disabled, broker unreachable")
		return
	}

	err = stompConnection.Connect(ctx, uuid.New())
	if err != nil {
		log.WithError(err).Warn("Telemetry disabled, STOMP connect failed")
		stompConnection.Close()
		return
	}

	publisher := NewTelemetryPublisher(stompConnection, config.TelemetryTopic, session, log)
	relay.WithTelemetry(stompConnection, publisher)
}
