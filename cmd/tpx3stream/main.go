// Command tpx3stream is the daemon entry point: it loads a detector
// layout, listens for the detector controller's raw-stream TCP
// connection, and runs the ingest/reconstruction/aggregation pipeline
// until the connection closes or a fatal error occurs.
package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/charmbracelet/log"
	"github.com/psi-detectors/tpx3stream/internal/config"
	"github.com/psi-detectors/tpx3stream/internal/control"
	"github.com/psi-detectors/tpx3stream/internal/logging"
	"github.com/psi-detectors/tpx3stream/internal/pipeline"
	"github.com/psi-detectors/tpx3stream/internal/streamreader"
	"github.com/spf13/pflag"
)

func main() {
	var configFileName = pflag.StringP("config-file", "c", "tpx3stream.yaml", "Detector layout / service configuration file.")
	var logLevel = pflag.StringP("log-level", "d", "info", "Log level: debug, info, warn, error.")
	var announceName = pflag.StringP("announce-name", "m", "", "Advertise the raw-stream ingest port via mDNS/DNS-SD under this name. Empty disables announcement.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - Timepix3 raw-stream reconstruction and spectra aggregation service.\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Usage: tpx3stream [options]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	if err := logging.SetLevel(*logLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var log = logging.For("main")

	layout, err := config.Load(*configFileName)
	if err != nil {
		log.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	if err := run(layout, *announceName, log); err != nil {
		log.Error("pipeline terminated with error", "err", err)
		os.Exit(1)
	}
}

func run(layout *config.Layout, announceName string, log *log.Logger) error {
	ln, err := net.Listen("tcp", layout.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %q: %w", layout.ListenAddress, err)
	}
	defer ln.Close()

	if announceName != "" {
		_, port, perr := net.SplitHostPort(ln.Addr().String())
		if perr != nil {
			return fmt.Errorf("parse listen port: %w", perr)
		}
		var portNum int
		if _, serr := fmt.Sscanf(port, "%d", &portNum); serr != nil {
			return fmt.Errorf("parse listen port %q: %w", port, serr)
		}
		if aerr := streamreader.Announce(context.Background(), announceName, portNum); aerr != nil {
			log.Error("mDNS announcement failed, continuing without it", "err", aerr)
		}
	}

	log.Info("waiting for detector connection", "address", ln.Addr().String())
	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("accept connection: %w", err)
	}
	defer conn.Close()
	log.Info("detector connected", "remote", conn.RemoteAddr().String())

	if tcpConn, ok := conn.(*net.TCPConn); ok && layout.ReceiveBufferSize > 0 {
		if terr := streamreader.TuneReceiveBuffer(tcpConn, layout.ReceiveBufferSize); terr != nil {
			log.Error("failed to tune receive buffer, continuing with default", "err", terr)
		}
	}

	sig := control.NewSignal()
	p, err := pipeline.New(layout, conn, sig)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	if err := p.Run(); err != nil {
		return err
	}
	log.Info("pipeline finished cleanly")
	return nil
}
