package main

import (
	"context"
	"log"
	"os"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"dev/bravebird/simulation-verifier/pkg/database"
	"dev/bravebird/simulation-verifier/pkg/temporal/activities"
	"dev/bravebird/simulation-verifier/pkg/temporal/workflows"
	"dev/bravebird/simulation-verifier/pkg/verify"
)

func main() {
	// Get Temporal host from environment
	temporalHost := getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	mysqlDSN := os.Getenv("MYSQL_DSN")

	// Create Temporal client
	c, err := client.Dial(client.Options{
		HostPort: temporalHost,
	})
	if err != nil {
		log.Fatalf("Failed to create Temporal client: %v", err)
	}
	defer c.Close()

	// Run history is optional on the worker
	var recorder activities.RunRecorder
	if mysqlDSN != "" {
		db, err := database.New(mysqlDSN)
		if err != nil {
			log.Printf("Warning: Failed to connect to database: %v", err)
			log.Println("Running without run history")
		} else {
			defer db.Close()
			if err := db.EnsureSchema(context.Background()); err != nil {
				log.Fatalf("Failed to prepare database: %v", err)
			}
			recorder = db
		}
	}

	// Verification config
	cfg := verify.DefaultConfig()
	cfg.TargetURL = getEnvOrDefault("TARGET_URL", cfg.TargetURL)
	cfg.ChromeBin = os.Getenv("CHROME_BIN")

	// Screenshot directory
	screenshotDir := getEnvOrDefault("SCREENSHOT_DIR", "/tmp/screenshots")
	if err := os.MkdirAll(screenshotDir, 0755); err != nil {
		log.Fatalf("Failed to create screenshot dir: %v", err)
	}

	// Create activities
	acts := activities.NewActivities(cfg, screenshotDir, recorder)

	// One browser session at a time per worker
	w := worker.New(c, workflows.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     1,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	// Register workflows
	w.RegisterWorkflow(workflows.VerificationWorkflow)

	// Register activities
	w.RegisterActivity(acts.RunVerificationActivity)
	w.RegisterActivity(acts.RecordRunActivity)

	log.Printf("Starting Temporal worker on task queue: %s", workflows.TaskQueue)
	log.Printf("Temporal host: %s", temporalHost)
	log.Printf("Verification target: %s", cfg.TargetURL)
	log.Printf("Screenshot dir: %s", screenshotDir)

	// Start worker
	err = w.Run(worker.InterruptCh())
	if err != nil {
		log.Fatalf("Worker failed: %v", err)
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
