package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Station-Manager/iocdi"
	"github.com/Station-Manager/utils"
	"github.com/flightline/serial"
	"github.com/flightline/serial/device"
	"github.com/flightline/serial/protocol"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const defaultConfigFile = "groundctl.yaml"

func main() {
	configPath := flag.String("config", "", "YAML configuration file (default <working dir>/"+defaultConfigFile+")")
	port := flag.String("port", "", "serial port to open at startup")
	baud := flag.Int("baud", 0, "baud rate")
	driver := flag.String("driver", "", "port driver: bugst or tarm")
	variant := flag.String("device", "", "device variant to select at startup")
	level := flag.String("log-level", "", "log level (trace, debug, info, warn, error)")
	metricsEvery := flag.Duration("metrics", 0, "print link metrics at this interval (0 disables)")
	list := flag.Bool("list", false, "list USB serial ports and exit")
	flag.Parse()

	if *list {
		ports, err := serial.AvailablePorts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *baud != 0 {
		cfg.Serial.BaudRate = *baud
	}
	if *driver != "" {
		cfg.Driver = *driver
	}
	if *variant != "" {
		cfg.Device = *variant
	}
	if *level != "" {
		cfg.Log.Level = *level
	}

	logger, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	link, err := build(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot start serial link")
	}
	defer func() {
		if err := link.Close(); err != nil {
			logger.Error().Err(err).Msg("closing serial link")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, unsubscribe := link.Subscribe(256)
	defer unsubscribe()
	go printEvents(events)

	if err = link.Start(); err != nil {
		logger.Fatal().Err(err).Msg("cannot start poll loop")
	}
	if cfg.Port != "" {
		if _, err = link.OpenPort(cfg.Port); err != nil {
			logger.Warn().Err(err).Msg("auto-open failed")
		}
	}
	if *metricsEvery > 0 {
		if err = link.StartMetricsBroadcasting(*metricsEvery); err != nil {
			logger.Fatal().Err(err).Msg("cannot start metrics")
		}
		if ch, err := link.MetricsChannel(); err == nil {
			go printMetrics(ch)
		}
	}

	repl(ctx, link)
}

// loadConfig reads path, or the default file in the working directory when
// path is empty. A missing default file means the built-in defaults.
func loadConfig(path string) (*serial.Config, error) {
	explicit := path != ""
	if !explicit {
		wd, err := utils.WorkingDir()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		path = filepath.Join(wd, defaultConfigFile)
	}

	cfg, err := serial.LoadConfig(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return serial.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// newLogger writes human-readable logs to stderr and, when a file is
// configured, JSON logs to a rotated file.
func newLogger(cfg serial.LogConfig) (*zerolog.Logger, func(), error) {
	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	closer := func() {}

	var logger zerolog.Logger
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		closer = func() { _ = file.Close() }
		logger = zerolog.New(zerolog.MultiLevelWriter(console, file))
	} else {
		logger = zerolog.New(console)
	}
	logger = logger.Level(lvl).With().Timestamp().Str("component", serial.ServiceName).Logger()
	return &logger, closer, nil
}

// build wires the serial service through the container.
func build(cfg *serial.Config, logger *zerolog.Logger) (*serial.Service, error) {
	container := iocdi.New()
	if err := container.RegisterInstance("logger", logger); err != nil {
		return nil, err
	}
	if err := container.RegisterInstance("config", cfg); err != nil {
		return nil, err
	}
	if err := container.Register(serial.ServiceName, reflect.TypeOf((*serial.Service)(nil))); err != nil {
		return nil, err
	}
	if err := container.Build(); err != nil {
		return nil, err
	}

	svc, err := container.ResolveSafe(serial.ServiceName)
	if err != nil {
		return nil, err
	}
	link, ok := svc.(*serial.Service)
	if !ok {
		return nil, fmt.Errorf("service %q is %T, not *serial.Service", serial.ServiceName, svc)
	}
	if err = link.Initialize(); err != nil {
		return nil, err
	}
	return link, nil
}

func printEvents(events <-chan serial.Event) {
	for e := range events {
		switch e.Kind {
		case serial.EventMessage:
			fmt.Printf("< %s\n", e.Line)
		case serial.EventDisconnected:
			fmt.Fprintln(os.Stderr, "! device disconnected")
		}
	}
}

func printMetrics(ch <-chan serial.MetricsSnapshot) {
	for snapshot := range ch {
		fmt.Fprintf(os.Stderr, "# %s score=%.0f reads=%d lines=%d errors=%d\n",
			snapshot.HealthStatus, snapshot.HealthScore, snapshot.TotalReads, snapshot.TotalLines, snapshot.TotalErrors)
	}
}

func repl(ctx context.Context, link *serial.Service) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "stdin error: %v\n", err)
		}
	}()

	fmt.Fprintln(os.Stderr, "Type 'help' for commands, Ctrl+D to exit.")
	for {
		fmt.Fprint(os.Stderr, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr)
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			cmd, arg, _ := strings.Cut(line, " ")
			if cmd == "quit" || cmd == "exit" {
				return
			}
			if err := run(link, cmd, strings.TrimSpace(arg)); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
		}
	}
}

const help = `commands:
  ports                  list USB serial ports
  open <port>            open a port
  close                  close the port
  current                show the open port
  baud <rate>            set the baud rate, reopening an open port
  settings               show serial settings
  send <text>            send a line to the device
  messages               show received lines
  clear                  clear received lines
  decoders               list registered decoders
  variants               list device variants with default settings
  select <variant>       select a device variant
  device                 show the selected device settings
  set-device <json>      replace the device settings
  capabilities <variant> show variant capabilities
  upload                 upload device settings
  download               download device settings
  metrics                show link metrics
  quit                   exit`

func run(link *serial.Service, cmd, arg string) error {
	switch cmd {
	case "help":
		fmt.Println(help)
	case "ports":
		ports, err := link.ListPorts()
		if err != nil {
			return err
		}
		for _, p := range ports {
			fmt.Println(p)
		}
	case "open":
		if arg == "" {
			return errors.New("usage: open <port>")
		}
		name, err := link.OpenPort(arg)
		if err != nil {
			return err
		}
		fmt.Println("connected to", name)
	case "close":
		return link.Disconnect()
	case "current":
		if p := link.CurrentPort(); p != "" {
			fmt.Println(p)
		} else {
			fmt.Println("not connected")
		}
	case "baud":
		rate, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("usage: baud <rate>: %w", err)
		}
		name, err := link.SetBaudRate(rate)
		if err != nil {
			return err
		}
		if name != "" {
			fmt.Println("reopened", name)
		}
	case "settings":
		return printJSON(link.SerialSettings())
	case "send":
		return link.SendMessage(arg)
	case "messages":
		for _, m := range link.Messages() {
			fmt.Println(m)
		}
	case "clear":
		link.ClearMessages()
	case "decoders":
		fmt.Println(strings.Join(protocol.Names(), " "))
	case "variants":
		return printJSON(link.DeviceVariants())
	case "select":
		return link.SelectDeviceVariant(arg)
	case "device":
		s, err := link.DeviceSettings()
		if err != nil {
			return err
		}
		return printJSON(s)
	case "set-device":
		var s device.Settings
		if err := json.Unmarshal([]byte(arg), &s); err != nil {
			return err
		}
		return link.SetDeviceSettings(s)
	case "capabilities":
		return printJSON(link.DeviceCapabilities(arg))
	case "upload":
		s, err := link.DeviceSettings()
		if err != nil {
			return err
		}
		return link.UploadDeviceSettings(s)
	case "download":
		s, err := link.DownloadDeviceSettings()
		if err != nil {
			return err
		}
		return printJSON(s)
	case "metrics":
		return printJSON(link.GetMetricsSnapshot())
	default:
		return fmt.Errorf("unknown command %q, try 'help'", cmd)
	}
	return nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
