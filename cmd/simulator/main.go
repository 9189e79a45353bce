package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

var (
	serverURL      = flag.String("server", "ws://localhost:9000/ocpp", "OCPP server WebSocket URL")
	chargePointID  = flag.String("id", "CP001", "Charge point identifier")
	vendor         = flag.String("vendor", "Simulator", "Charge point vendor")
	model          = flag.String("model", "SimulatorV1", "Charge point model")
	serial         = flag.String("serial", "SIM001", "Serial number")
	firmware       = flag.String("firmware", "1.0.0", "Firmware version")
	idTag          = flag.String("idtag", "TAG001", "Id tag used to authorize sessions")
	connectorCount = flag.Int("connectors", 2, "Number of connectors")
	power          = flag.Float64("power", 7400, "Charging power (W)")
	voltage        = flag.Float64("voltage", 230, "Supply voltage (V)")
	sampleInterval = flag.Duration("sample-interval", 10*time.Second, "MeterValues interval")
	sessionLength  = flag.Duration("session", 0, "Run one charging session of this length on connector 1, then exit")
	interactive    = flag.Bool("interactive", false, "Enable interactive mode")
	verbose        = flag.Bool("verbose", false, "Enable verbose logging")
)

func main() {
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	simulator := NewSimulator(&SimulatorConfig{
		ServerURL:       *serverURL,
		ChargePointID:   *chargePointID,
		Vendor:          *vendor,
		Model:           *model,
		SerialNumber:    *serial,
		FirmwareVersion: *firmware,
		IdTag:           *idTag,
		ConnectorCount:  *connectorCount,
		PowerW:          *power,
		VoltageV:        *voltage,
		SampleInterval:  *sampleInterval,
	}, logger)

	if err := simulator.Connect(); err != nil {
		logger.Fatal("Failed to connect to server", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	switch {
	case *sessionLength > 0:
		go func() {
			<-sigChan
			simulator.Stop()
			os.Exit(0)
		}()
		if err := simulator.RunSession(1, *idTag, *sessionLength); err != nil {
			logger.Error("Charging session failed", zap.Error(err))
		}
		simulator.Stop()

	case *interactive:
		go func() {
			<-sigChan
			simulator.Stop()
			os.Exit(0)
		}()
		fmt.Println("\nOCPP 1.6 Charge Point Simulator - Interactive Mode")
		fmt.Println("==================================================")
		fmt.Println("Commands:")
		fmt.Println("  authorize [idTag]            - Authorize an id tag")
		fmt.Println("  start <connector> [idTag]    - Start charging on connector")
		fmt.Println("  stop <connector> [reason]    - Stop charging on connector")
		fmt.Println("  status <connector> <status>  - Send StatusNotification")
		fmt.Println("  heartbeat                    - Send heartbeat")
		fmt.Println("  quit                         - Exit simulator")
		fmt.Println("")
		simulator.RunInteractive()
		simulator.Stop()

	default:
		fmt.Printf("OCPP 1.6 Charge Point Simulator started\n")
		fmt.Printf("  ID: %s\n", *chargePointID)
		fmt.Printf("  Server: %s\n", *serverURL)
		fmt.Println("\nPress Ctrl+C to stop")
		<-sigChan
		fmt.Println("\nShutting down simulator...")
		simulator.Stop()
	}
}
