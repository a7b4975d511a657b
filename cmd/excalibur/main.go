// Command excalibur runs the pluggable web server host: it binds the
// configuration tree, wires the server handle, starts the plugin
// supervisor, and serves until interrupted.
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"excalibur/internal/abi"
	"excalibur/internal/config"
	"excalibur/internal/diag"
	"excalibur/internal/host"
	"excalibur/internal/pluginhost"
	"excalibur/internal/router"
	"excalibur/internal/supervisor"
	"excalibur/internal/timekeeper"
	"excalibur/internal/websrv"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "excalibur",
		Short:         "Pluggable web server host",
		Long:          "Excalibur maps URL resource subspaces to independently loadable extensions and hot-reloads them when their images change on disk.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")
	return cmd
}

func run(configPath string) error {
	path, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	root, err := config.Load(path)
	if err != nil {
		return err
	}
	imageDir, runtimeDir, err := root.ResolveDirs()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(runtimeDir, 0o755); err != nil {
		return fmt.Errorf("create runtime directory: %w", err)
	}

	bus := diag.New()
	unsubscribe := bus.Subscribe(diag.StreamReporter(os.Stdout, os.Stderr), abi.LevelInfo)
	defer unsubscribe()

	clock := timekeeper.New()
	rt := router.New()
	handle := host.New(rt, bus, clock)
	for key, value := range root.Server {
		handle.SetConfigurationItem(key, value)
	}

	records := make([]*pluginhost.Record, 0, len(root.PluginsEnabled))
	for _, name := range root.PluginsEnabled {
		entry, known := root.Plugins[name]
		if !known {
			bus.Publish("WebServer", abi.LevelWarning, fmt.Sprintf("enabled plugin '%s' has no entry in the plugins table", name))
			continue
		}
		records = append(records, pluginhost.NewRecord(name, imageDir, runtimeDir, entry.Module, entry.Configuration))
	}

	sup := supervisor.New(handle, bus.Sink(), imageDir, records)
	sup.ScanOnce()
	if err := sup.StartBackground(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: unable to monitor plug-ins image directory (%s)\n", imageDir)
	}

	address := ""
	if port, ok := handle.GetConfigurationItem("Port"); ok && port != "" {
		address = ":" + port
	}
	server, err := websrv.Create(websrv.Options{
		Address:       address,
		Secure:        root.Secure,
		Certificate:   root.SSLCertificate,
		Key:           root.SSLKey,
		KeyPassphrase: root.SSLKeyPassphrase,
	}, websrv.WithDiagnostics(bus, rt))
	if err != nil {
		sup.Close()
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- websrv.Start(server) }()
	fmt.Println("Web server up and running.")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	select {
	case err := <-serveErr:
		sup.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-interrupt:
	}

	fmt.Println("Exiting...")
	sup.Close()
	return websrv.Shutdown(server, shutdownTimeout)
}
