package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const (
	appName = "hwbuttons"
	version = "1.0.0"
)

func printVersion() {
	fmt.Printf("hwbuttons v%s\n", version)
	fmt.Println("Hardware button gesture daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  hwbuttons [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Watches physical push buttons (GPIO lines or Linux input devices), classifies")
	fmt.Println("  each interaction as a short, double or long press and runs the action bound")
	fmt.Println("  to that gesture. Bindings live in a YAML file that is reloaded on change.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        YAML config file (optional; defaults are used when empty)")
	fmt.Println()
	fmt.Println("  -buttons-file string")
	fmt.Println("        YAML file holding the button bindings (default \"~/.config/hwbuttons/buttons.yaml\")")
	fmt.Println()
	fmt.Println("  -gpio")
	fmt.Println("        Read buttons from the GPIO character device (default true)")
	fmt.Println()
	fmt.Println("  -gpio-chip string")
	fmt.Println("        GPIO chip name (default \"gpiochip0\")")
	fmt.Println()
	fmt.Println("  -evdev-devices string")
	fmt.Println("        Comma separated input devices to read keys from (e.g. /dev/input/event0)")
	fmt.Println()
	fmt.Println("  -action-ceiling-sec int")
	fmt.Printf("        Hard time limit for a single action in seconds (default %d)\n", defaultCeilingSec)
	fmt.Println()
	fmt.Println("  -home-dir string")
	fmt.Println("        Base directory for relative external_script paths (default: $HOME)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultIPCSocketPath)
	fmt.Println()
	fmt.Println("  -http-port int")
	fmt.Printf("        HTTP listener port for /ws, /actions and /bindings; 0 disables (default %d)\n", defaultHTTPPort)
	fmt.Println()
	fmt.Println("  -host-update-url string")
	fmt.Println("        URL that receives manual refresh requests as JSON POSTs")
	fmt.Println()
	fmt.Println("  -mqtt-broker string")
	fmt.Println("        MQTT broker URL (e.g. tcp://127.0.0.1:1883); enables gesture publishing")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with a config file")
	fmt.Println("  hwbuttons -config /etc/hwbuttons/config.yaml")
	fmt.Println()
	fmt.Println("  # Use a gpio-keys input device instead of the GPIO chip")
	fmt.Println("  hwbuttons -gpio=false -evdev-devices /dev/input/event0")
	fmt.Println()
	fmt.Println("  # Simulate a button press from a shell")
	fmt.Println("  hwbuttons-ctl click 17")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires access to /dev/gpiochip* or /dev/input/event* (root, or the gpio/input groups)")
	fmt.Println("  - Valid button pins are 2..27")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath    = flag.String("config", "", "YAML config file")
		buttonsFile   = flag.String("buttons-file", "", "YAML file holding the button bindings")
		gpioEnabled   = flag.Bool("gpio", true, "Read buttons from the GPIO character device")
		gpioChip      = flag.String("gpio-chip", defaultGPIOChip, "GPIO chip name")
		evdevDevices  = flag.String("evdev-devices", "", "Comma separated input devices")
		ceilingSec    = flag.Int("action-ceiling-sec", defaultCeilingSec, "Hard time limit for a single action in seconds")
		homeDir       = flag.String("home-dir", "", "Base directory for relative external_script paths")
		ipcSocketPath = flag.String("ipc-socket", defaultIPCSocketPath, "Unix domain socket path for IPC")
		httpPort      = flag.Int("http-port", defaultHTTPPort, "HTTP listener port (0 disables)")
		hostUpdateURL = flag.String("host-update-url", "", "URL that receives manual refresh requests")
		mqttBroker    = flag.String("mqtt-broker", "", "MQTT broker URL")
		logLevelStr   = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		_             = flag.Bool("version", false, "Print version and exit")
		_             = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(ExpandPath(*configPath))
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Only flags given on the command line override the file.
	var ov FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "buttons-file":
			ov.ButtonsFile = buttonsFile
		case "gpio":
			ov.GPIOEnabled = gpioEnabled
		case "gpio-chip":
			ov.GPIOChip = gpioChip
		case "evdev-devices":
			ov.EvdevDevices = evdevDevices
		case "action-ceiling-sec":
			ov.CeilingSec = ceilingSec
		case "home-dir":
			ov.HomeDir = homeDir
		case "ipc-socket":
			ov.IPCSocketPath = ipcSocketPath
		case "http-port":
			ov.HTTPPort = httpPort
		case "host-update-url":
			ov.HostUpdateURL = hostUpdateURL
		case "mqtt-broker":
			ov.MQTTBroker = mqttBroker
		case "log-level":
			ov.LogLevel = logLevelStr
		}
	})
	ov.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel)

	logger.Debug("starting hwbuttons", "version", version)
	logger.Debug("configuration",
		"config", *configPath,
		"buttons_file", cfg.ButtonsFile,
		"gpio_enabled", cfg.Input.GPIO.Enabled,
		"gpio_chip", cfg.Input.GPIO.Chip,
		"evdev_devices", cfg.Input.Evdev.Devices,
		"action_ceiling_sec", cfg.Dispatcher.CeilingSec,
		"ipc_socket", cfg.IPC.SocketPath,
		"http_port", cfg.HTTP.Port,
		"host_update_url", cfg.Host.UpdateURL,
		"playlists", len(cfg.Host.Playlists),
		"mqtt_broker", cfg.MQTT.Broker,
		"features", len(cfg.Features))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(cfg, logger)
	if err != nil {
		logger.Error("failed to initialise daemon", "error", err)
		os.Exit(1)
	}

	logger.Info("listening",
		"ipc", cfg.IPC.SocketPath,
		"http_port", cfg.HTTP.Port,
		"gpio", cfg.Input.GPIO.Enabled,
		"evdev_devices", len(cfg.Input.Evdev.Devices))

	if err := d.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down")
}
