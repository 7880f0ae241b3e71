// Package testdata drives a real insights service with synthetic learning
// curves so Grafana dashboards can be built without a Rasa backend.
package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fyrsmithlabs/rasac/internal/curve"
	"github.com/fyrsmithlabs/rasac/internal/insights"
)

var transports = []string{"http", "nats", "cli"}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}

	metrics := insights.NewMetrics()
	svc, err := insights.NewService(10, insights.WithMetrics(metrics))
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Generate initial sample data
	for i := 0; i < 200; i++ {
		compute(ctx, svc)
	}
	go generateContinuousData(ctx, svc)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
		server.Shutdown(context.Background())
	}()

	fmt.Printf("Sample metrics server running on http://localhost:%s/metrics\n", port)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println("\nTo use with Prometheus, add this to prometheus.yml:")
	fmt.Printf("  - job_name: 'rasac-test'\n    static_configs:\n      - targets: ['localhost:%s']\n", port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func generateContinuousData(ctx context.Context, svc *insights.Service) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i := rand.Intn(5); i >= 0; i-- {
				compute(ctx, svc)
			}
			// Occasionally move the default, as a config reload would.
			if rand.Float64() > 0.9 {
				_ = svc.SetDefaultPatience(5 + rand.Intn(20))
			}
		}
	}
}

func compute(ctx context.Context, svc *insights.Service) {
	req := &insights.Request{CurveData: syntheticCurve(20 + rand.Intn(180))}
	switch r := rand.Float64(); {
	case r > 0.95:
		p := 0
		req.Patience = &p
	case r > 0.6:
		p := 5 + rand.Intn(30)
		req.Patience = &p
	}
	_, _ = svc.Compute(ctx, randomChoice(transports), req)
}

// syntheticCurve returns a training run whose test loss bottoms out
// somewhere in the run and then drifts up.
func syntheticCurve(epochs int) *curve.Series {
	turn := float64(epochs) * (0.3 + rand.Float64()*0.6)
	s := &curve.Series{}
	for i := 0; i < epochs; i++ {
		x := float64(i)
		train := math.Exp(-x/turn) + 0.05
		test := train + 0.1 + math.Max(0, x-turn)*0.01 + rand.NormFloat64()*0.02
		s.Epochs = append(s.Epochs, i+1)
		s.TrainLoss = append(s.TrainLoss, train)
		s.TestLoss = append(s.TestLoss, test)
		s.TrainAcc = append(s.TrainAcc, 1-train/2)
		s.TestAcc = append(s.TestAcc, 1-test/2)
	}
	return s
}

func randomChoice(choices []string) string {
	return choices[rand.Intn(len(choices))]
}
