// Command corehttpd is the process entrypoint: it loads configuration,
// builds the logger and server, and runs until a termination signal
// arrives.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corehttp/server/internal/config"
	"github.com/corehttp/server/internal/logging"
	"github.com/corehttp/server/internal/pools"
	"github.com/corehttp/server/internal/server"
)

func main() {
	port := flag.Int("port", 1316, "listen port")
	trigMode := flag.Int("trig-mode", 3, "trigger mode 0-3 (LT/LT, LT/ET, ET/LT, ET/ET)")
	timeoutMS := flag.Int("timeout-ms", 60000, "idle connection timeout in milliseconds")
	srcDir := flag.String("src-dir", "./resources", "static resource directory")
	dbHost := flag.String("db-host", "localhost", "MySQL host")
	dbPort := flag.Int("db-port", 3306, "MySQL port")
	dbUser := flag.String("db-user", "", "MySQL user")
	dbPwd := flag.String("db-pwd", "", "MySQL password")
	dbName := flag.String("db-name", "corehttpd", "MySQL database name")
	connPoolNum := flag.Int("conn-pool-num", 12, "DB connection pool size (0 disables the DB)")
	threadNum := flag.Int("thread-num", 6, "worker pool size")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logDir := flag.String("log-dir", "./logs", "daily-rotating log directory")
	logSuffix := flag.String("log-suffix", ".log", "log file suffix, appended to the date")
	logRetention := flag.Duration("log-retention", 30*24*time.Hour, "how long rotated log files are kept")
	flag.Parse()

	pools.ApplyGCConfig(pools.DefaultGCConfig())

	mgr := config.NewManager()
	mgr.LoadFromEnv("COREHTTPD")

	rotFile, err := logging.NewRotatingFile(*logDir, *logSuffix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "corehttpd: log file: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(logging.Options{Level: *logLevel, Output: rotFile})

	pruner := pools.NewRotationExecutor(1)
	stopPruning := schedulePruning(pruner, *logDir, *logRetention, log)
	defer stopPruning()

	cfg := server.Config{
		Port:        *port,
		Trigger:     server.TriggerMode(*trigMode),
		IdleTimeout: time.Duration(*timeoutMS) * time.Millisecond,
		SrcDir:      *srcDir,
		DBHost:      *dbHost,
		DBPort:      uint16(*dbPort),
		DBUser:      *dbUser,
		DBPassword:  *dbPwd,
		DBName:      *dbName,
		DBPoolSize:  *connPoolNum,
		WorkerCount: *threadNum,
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Fatalf("server init: %v", err)
	}

	go awaitSignal(srv, log)

	log.Infof("corehttpd starting on port %d", cfg.Port)
	if err := srv.Run(); err != nil {
		log.Fatalf("server run: %v", err)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, "corehttpd: shutdown complete")
}

// schedulePruning submits a PruneOldLogs task to executor once a day.
// It returns a function that stops the scheduling goroutine and closes
// the executor.
func schedulePruning(executor *pools.RotationExecutor, dir string, retention time.Duration, log *logging.Logger) func() {
	ticker := time.NewTicker(24 * time.Hour)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				executor.Submit(func() {
					if err := logging.PruneOldLogs(dir, retention); err != nil {
						log.Warnf("log prune: %v", err)
					}
				})
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
		executor.Close()
	}
}

func awaitSignal(srv *server.Server, log *logging.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Infof("signal received: %v, shutting down", sig)
	srv.Close()
}
