// Command print3d is the daemon entrypoint: flag parsing, printer
// discovery/selection, driver construction, and event-loop startup.
// Grounded on cmd/bluetooth-service/main.go's flag-variable style plus
// original_source/src/server/main.cpp and Server.cpp::start.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/doodle3d/print3d/pkg/binarydriver"
	"github.com/doodle3d/print3d/pkg/devicescan"
	"github.com/doodle3d/print3d/pkg/driver"
	"github.com/doodle3d/print3d/pkg/server"
	"github.com/doodle3d/print3d/pkg/textdriver"
)

var (
	device      = flag.String("device", "", "Serial device path (default: probe /dev)")
	printer     = flag.String("printer", "", "Firmware name (see --help for supported list)")
	fork        = flag.Bool("fork", false, "Daemonize after startup (unimplemented on this platform)")
	noFork      = flag.Bool("no-fork", false, "Stay in the foreground (the default)")
	force       = flag.Bool("force", false, "Proceed even if an instance already owns the socket")
	useSettings = flag.Bool("use-settings", false, "Look up device/printer from the settings collaborator (unimplemented, out of scope)")
	verbose     = flag.Int("v", 0, "Verbosity level (logged at startup; does not filter log output)")
	quiet       = flag.Bool("q", false, "Quiet mode (accepted; log output is not reduced)")
)

func newRegistry() *driver.Registry {
	r := driver.NewRegistry()
	for _, name := range driver.TextFirmwareNames {
		r.Register(name, driver.FamilyText, textdriver.New)
	}
	for _, name := range driver.BinaryFirmwareNames {
		r.Register(name, driver.FamilyBinary, binarydriver.New)
	}
	return r
}

func main() {
	flag.Usage = usage
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	if *quiet {
		log.SetOutput(os.Stderr)
	}
	if *verbose > 0 {
		log.Printf("SRV verbosity level %d", *verbose)
	}

	registry := newRegistry()

	devicePath := *device
	if devicePath == "" {
		candidates, err := devicescan.Enumerate()
		if err != nil {
			log.Fatalf("SRV device discovery failed: %v", err)
		}
		if len(candidates) == 0 {
			fmt.Fprintln(os.Stderr, "print3d: no serial device found, pass --device")
			os.Exit(2)
		}
		devicePath = candidates[0]
		log.Printf("SRV using discovered device %s", devicePath)
	}

	firmwareName := *printer
	if firmwareName == "" {
		fmt.Fprintln(os.Stderr, "print3d: --printer is required")
		os.Exit(2)
	}
	if _, ok := registry.Family(firmwareName); !ok {
		fmt.Fprintf(os.Stderr, "print3d: unsupported firmware %q\n", firmwareName)
		os.Exit(2)
	}

	drv, err := registry.Create(firmwareName, devicePath)
	if err != nil {
		log.Fatalf("SRV driver construction failed: %v", err)
	}

	socketPath := socketPathFor(devicePath)
	if *force {
		os.Remove(socketPath)
	}

	srv := server.New(socketPath, drv)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("SRV received shutdown signal")
		srv.RequestExit(0)
	}()

	log.Printf("SRV listening on %s, device=%s printer=%s", socketPath, devicePath, firmwareName)
	os.Exit(srv.Start())
}

func socketPathFor(devicePath string) string {
	id := devicePath
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '/' {
			id = id[i+1:]
			break
		}
	}
	return "/tmp/print3d-" + id
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: print3d [--device path] [--printer name] [--fork|--no-fork] [--force] [--use-settings] [-v|-q] [--help]")
	flag.PrintDefaults()
	fmt.Fprintln(os.Stderr, "supported printers:")
	for _, name := range driver.TextFirmwareNames {
		fmt.Fprintln(os.Stderr, "  "+name)
	}
	for _, name := range driver.BinaryFirmwareNames {
		fmt.Fprintln(os.Stderr, "  "+name)
	}
}
