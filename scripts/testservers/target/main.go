// Command target serves a configurable search endpoint for local probe trials:
//
//	go run ./scripts/testservers/target --port 8080 --latency 80ms --failure-ratio 0.05
//	stagefire --base-url http://localhost:8080 --path /api/search?query=go
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/torosent/stagefire/internal/config"
	"github.com/torosent/stagefire/internal/logging"
	"github.com/torosent/stagefire/internal/testtarget"
)

func main() {
	port := pflag.Int("port", 8080, "Listening port")
	latency := pflag.Duration("latency", 50*time.Millisecond, "Base response delay")
	jitter := pflag.Duration("jitter", 100*time.Millisecond, "Extra random delay")
	failureRatio := pflag.Float64("failure-ratio", 0, "Share of requests answered with --failure-status")
	failureStatus := pflag.Int("failure-status", http.StatusInternalServerError, "Status code for injected failures")
	pflag.Parse()

	logger, err := logging.New(config.LogConfig{Level: "info"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	h := testtarget.New(testtarget.Options{
		Latency:       *latency,
		Jitter:        *jitter,
		FailureRatio:  *failureRatio,
		FailureStatus: *failureStatus,
	})

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("test target listening",
		zap.String("addr", addr),
		zap.Duration("latency", *latency),
		zap.Duration("jitter", *jitter),
		zap.Float64("failure_ratio", *failureRatio),
	)
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal("test target stopped", zap.Error(err))
	}
}
