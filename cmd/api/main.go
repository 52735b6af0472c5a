package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"caseflow/assign"
	"caseflow/company"
	"caseflow/db"
	"caseflow/loan"
	"caseflow/ptp"
	"caseflow/worker"
)

func main() {
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(level)
	}
	entry := log.WithField("service", "caseflow-api")

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		entry.Fatal("DATABASE_URL is required")
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		entry.Fatal("JWT_SECRET is required")
	}
	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := db.NewPool(ctx, databaseURL)
	cancel()
	if err != nil {
		entry.WithError(err).Fatal("connect to database")
	}
	defer pool.Close()

	workerSvc := worker.NewService(worker.NewRepository(pool), jwtSecret)
	reconciler := loan.NewReconciler(pool, nil)
	assigner := assign.NewService(pool, assign.NewPGRepository(pool))
	companySvc := company.NewService(company.NewRepository(pool))
	promiseSvc := ptp.NewService(ptp.NewRepository(pool))

	server := &Server{
		workers:    workerSvc,
		reconciler: reconciler,
		assigner:   assigner,
		loans:      loan.NewDirectory(pool),
		companies:  companySvc,
		promises:   promiseSvc,
		log:        entry,
	}

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	entry.WithField("addr", listenAddr).Info("listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		entry.WithError(err).Fatal("server stopped")
	}
}
