package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/netutil"

	"peershare/registry"
	"peershare/tracker/server"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		fmt.Println("Usage: tracker -p <port> [--data dir] [--admin addr] [-c config]")
		os.Exit(1)
	}

	setupLogging(cfg.Verbosity)
	defer glog.Flush()

	store, err := registry.OpenBadger(cfg.DataDir)
	if err != nil {
		glog.Fatalf("open store: %v", err)
	}
	reg, err := registry.New(store)
	if err != nil {
		store.Close()
		glog.Fatalf("load registry: %v", err)
	}

	address := fmt.Sprintf(":%d", cfg.Port)
	ln, err := net.Listen("tcp", address)
	if err != nil {
		reg.Close()
		glog.Fatalf("failed to start tracker on %s: %v", address, err)
	}
	ln = netutil.LimitListener(ln, cfg.MaxConns)

	srv := server.NewServer(reg, cfg.idle)
	go func() {
		if err := srv.Serve(ln); err != nil {
			glog.Errorf("serve: %v", err)
		}
	}()

	var admin *http.Server
	if cfg.AdminAddr != "" {
		admin = &http.Server{Addr: cfg.AdminAddr, Handler: newAdminRouter(reg)}
		go func() {
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				glog.Errorf("admin api: %v", err)
			}
		}()
		glog.Infof("admin api on %s", cfg.AdminAddr)
	}

	fmt.Printf("Tracker listening on %s\n", address)
	fmt.Println("Press Ctrl+C to stop the tracker")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	fmt.Println("Shutting down...")
	srv.Shutdown()
	ln.Close()

	if admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		admin.Shutdown(ctx)
		cancel()
	}

	if err := reg.Close(); err != nil {
		glog.Errorf("close registry: %v", err)
	}
	fmt.Println("Tracker stopped.")
}
