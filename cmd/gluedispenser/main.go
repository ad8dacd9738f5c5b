package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"cirello.io/oversight"
	"gopkg.in/ini.v1"

	"github.com/gisilves/ams-glue-dispenser-GUI/device"
	"github.com/gisilves/ams-glue-dispenser-GUI/dispense"
)

func main() {
	log.SetFlags(log.Lshortfile)

	configPath := flag.String("config", "", "Path to an INI configuration file.")
	addr := flag.String("addr", "", "Address to bind the server to (overrides config).")
	port := flag.String("port", "", "Serial port of the dispenser (overrides config).")
	baud := flag.Int("baud", 0, "Serial baud rate (overrides config).")
	dir := flag.String("dir", "", "Data directory for stored programs (overrides config).")
	debug := flag.Bool("debug", false, "Log commands instead of opening a serial port.")
	flag.Parse()

	config := defaultConfiguration()
	if *configPath != "" {
		if err := ini.MapTo(&config, *configPath); err != nil {
			log.Fatal("cannot open configuration file:", err)
		}
	}
	if *addr != "" {
		config.Server.Addr = *addr
	}
	if *port != "" {
		config.Serial.Port = *port
	}
	if *baud != 0 {
		config.Serial.Baud = *baud
	}
	if *dir != "" {
		config.Server.DataDir = *dir
	}

	var link device.Link
	portName := config.Serial.Port
	if *debug {
		link = &device.Debug{Delay: 50 * time.Millisecond}
		portName = "debug"
	} else {
		s, err := device.OpenSerial(device.SerialConfig{
			Port: config.Serial.Port,
			Baud: config.Serial.Baud,
		})
		if err != nil {
			log.Fatal("open serial port: ", err)
		}
		link = s
	}
	defer link.Close()

	hub := newWSHub()
	met := newMetrics()
	bus := newEventBus(hub, met)
	hub.onConfirm = func(ok bool) { bus.Resolve(ok) }

	eng := dispense.New(link, bus)
	if config.Engine.PollIntervalMS > 0 {
		eng.PollInterval = time.Duration(config.Engine.PollIntervalMS) * time.Millisecond
	}
	if config.Engine.AckTimeoutS > 0 {
		eng.AckTimeout = time.Duration(config.Engine.AckTimeoutS) * time.Second
	}
	cmd := dispense.NewCommander(eng)

	api := newAPI(eng, cmd, bus, met, config, portName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tree := oversight.New(
		oversight.WithRestartStrategy(oversight.OneForOne()),
		oversight.WithLogger(log.Default()),
	)
	tree.Add(hub.run)

	srv := &http.Server{
		Addr: config.Server.Addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "*")
			log.Printf("%s %s - %s", req.Method, req.URL.Path, req.RemoteAddr)
			api.ServeHTTP(w, req)
		}),
	}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.TODO())
	}()
	tree.Add(func(ctx context.Context) error {
		log.Println("Listening on", config.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("cannot keep serving anymore: %w", err)
		}
		return nil
	})

	if err := tree.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("tree errored:", err)
	}
}
