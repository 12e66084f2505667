package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nadmax/conductor/internal/api"
	"github.com/nadmax/conductor/internal/handlers"
	"github.com/nadmax/conductor/internal/loop"
	"github.com/nadmax/conductor/internal/middleware"
	"github.com/nadmax/conductor/internal/repository"
	"github.com/nadmax/conductor/internal/resilience"
	"github.com/nadmax/conductor/internal/task"
)

func main() {
	cfg := configFromEnv()

	var repo *repository.PostgresRunRepository
	postgresDSN := os.Getenv("POSTGRES_DSN")
	if postgresDSN != "" {
		var err error
		repo, err = repository.NewPostgresRunRepository(postgresDSN)
		if err != nil {
			log.Fatal(err)
		}

		defer func() {
			if err := repo.Close(); err != nil {
				log.Printf("failed to close Postgres repository: %v", err)
			}
		}()
	} else {
		log.Println("POSTGRES_DSN not set, outcome persistence disabled")
	}

	var checkpoints *repository.RedisCheckpointStore
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr != "" {
		var err error
		checkpoints, err = repository.NewRedisCheckpointStore(redisAddr)
		if err != nil {
			log.Fatal(err)
		}

		defer func() {
			if err := checkpoints.Close(); err != nil {
				log.Printf("failed to close checkpoint store: %v", err)
			}
		}()
	} else {
		log.Println("REDIS_ADDR not set, checkpoint persistence disabled")
	}

	l := resumeOrNew(cfg, checkpoints)
	registerOperations(l, repo)

	var runRepo repository.RunRepository
	if repo != nil {
		runRepo = repo
	}
	apiHandler := api.NewAPI(l, runRepo)

	mux := http.NewServeMux()
	mux.Handle("/api/", middleware.MetricsMiddleware(apiHandler))
	mux.Handle("/metrics", promhttp.Handler())

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{Addr: ":" + port, Handler: mux}

	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collectorDone := startMetricsCollector(ctx, apiHandler.Loop)

	runHost(ctx, apiHandler, repo, checkpoints)

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	<-collectorDone
}

// runHost serves loop runs until the process context is cancelled. Each run
// executes the current queue to a terminal result; a run that ends with a
// continuation restarts from its checkpoint, any other run is followed by a
// fresh loop so the API can keep accepting tasks.
func runHost(ctx context.Context, ctl *api.API, repo *repository.PostgresRunRepository, checkpoints *repository.RedisCheckpointStore) {
	runID := uuid.New().String()

	for {
		l := ctl.Loop()
		if !waitForTasks(ctx, l) {
			return
		}

		res, err := l.Run(ctx)
		if err != nil {
			log.Printf("run %s ended with error: %v", runID, err)
		}
		if res != nil {
			persistOutcomes(l, repo, runID)
			log.Printf("run %s finished status=%s completed=%d failed=%d",
				runID, res.Status, res.Metrics.TasksCompleted, res.Metrics.TasksFailed)
		}
		if ctx.Err() != nil {
			return
		}

		var next *loop.Loop
		if res != nil && res.Continuation != nil {
			runID = res.Continuation.ID
			log.Printf("continuing as run %s with %d pending tasks", runID, len(res.Continuation.Pending))
			next = loop.NewFromCheckpoint(res.Continuation, loopOptions(checkpoints))
		} else {
			runID = uuid.New().String()
			next = loop.New(l.Configuration(), loopOptions(checkpoints))
		}

		registerOperations(next, repo)
		ctl.SwapLoop(next)
	}
}

// waitForTasks blocks until the loop has work queued. It returns false when
// the context is cancelled first.
func waitForTasks(ctx context.Context, l *loop.Loop) bool {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if len(l.PendingTasks()) > 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func persistOutcomes(l *loop.Loop, repo *repository.PostgresRunRepository, runID string) {
	if repo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, t := range l.CompletedTasks() {
		if err := repo.SaveOutcome(ctx, runID, t); err != nil {
			log.Printf("failed to persist outcome for task %s: %v", t.ID, err)
		}
	}
	for _, t := range l.FailedTasks() {
		if err := repo.SaveOutcome(ctx, runID, t); err != nil {
			log.Printf("failed to persist outcome for task %s: %v", t.ID, err)
		}
	}
	for _, snap := range l.State().Snapshots {
		if err := repo.SaveSnapshot(ctx, runID, snap); err != nil {
			log.Printf("failed to persist snapshot %s: %v", snap.ID, err)
		}
	}
}

// resumeOrNew restores the most recent checkpoint when one exists, so a
// restarted process picks up the tasks an interrupted run left pending.
func resumeOrNew(cfg loop.Configuration, checkpoints *repository.RedisCheckpointStore) *loop.Loop {
	if checkpoints != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		cp, err := checkpoints.LatestCheckpoint(ctx)
		if err != nil {
			log.Printf("failed to load latest checkpoint: %v", err)
		} else if cp != nil && len(cp.Pending) > 0 {
			log.Printf("resuming from checkpoint %s with %d pending tasks", cp.ID, len(cp.Pending))
			return loop.NewFromCheckpoint(cp, loopOptions(checkpoints))
		}
	}

	return loop.New(cfg, loopOptions(checkpoints))
}

func loopOptions(checkpoints *repository.RedisCheckpointStore) loop.Options {
	opts := loop.Options{}
	if checkpoints != nil {
		opts.Checkpoints = checkpoints
	}
	return opts
}

func registerOperations(l *loop.Loop, repo *repository.PostgresRunRepository) {
	emailSender := handlers.NewEmailSender(
		os.Getenv("EMAIL_API_KEY"),
		os.Getenv("FROM_NAME"),
		os.Getenv("FROM_ADDRESS"),
	)
	l.RegisterOperation("send_email", emailSender.SendEmail)
	l.RegisterOperation("process_image", processImage)

	if repo != nil {
		reports := handlers.NewReportGenerator(repo.DB())
		l.RegisterOperation("generate_report", reports.GenerateReport)
	}
}

func processImage(ctx context.Context, t *task.Task) error {
	imageURL, ok := t.Payload["image_url"].(string)
	if !ok {
		return resilience.NewCategoryError(resilience.CategoryValidation, errors.New("missing 'image_url' field"))
	}

	log.Printf("Processing image: %s", imageURL)
	select {
	case <-time.After(5 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}
	log.Printf("Image processed: %s", imageURL)
	return nil
}

func configFromEnv() loop.Configuration {
	cfg := loop.DefaultConfiguration()

	if policy := os.Getenv("RETRY_POLICY"); policy != "" {
		cfg.RetryPolicy = policy
	}
	if raw := os.Getenv("STOP_ON_FAILURE"); raw != "" {
		cfg.StopOnFailure = raw == "true" || raw == "1"
	}
	if raw := os.Getenv("CONTINUATION_THRESHOLD"); raw != "" {
		if threshold, err := strconv.Atoi(raw); err == nil && threshold > 0 {
			cfg.ContinuationThreshold = threshold
		}
	}
	if raw := os.Getenv("SCHEDULE_INTERVAL_MS"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms >= 0 {
			cfg.ScheduleInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if raw := os.Getenv("DEFAULT_TIMEOUT_SECS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			cfg.DefaultTimeout = time.Duration(secs) * time.Second
		}
	}

	return cfg
}
