// Command serialrecv prints every non-empty line received on a serial port.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	serial "github.com/luhtfiimanal/serialrecv"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port (e.g., COM7 or /dev/ttyUSB0), overrides config")
		configFlag = flag.String("config", "serialrecv.yaml", "Configuration file path")
	)
	flag.Parse()

	cfg, err := serial.LoadConfig(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Device = *portFlag
	}

	// The port is released when the process exits.
	port, err := serial.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open serial: %v", err)
	}

	if err := serial.Run(context.Background(), port, os.Stdout); err != nil {
		log.Fatalf("Read error: %v", err)
	}
}
