// seed inserts a test tenant, a handful of jobs, and one endpoint per job
// into the local dev database, so a freshly migrated database has
// something for the scheduler to pick up within a minute.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cronicorn/cronicorn/internal/domain"
	"github.com/cronicorn/cronicorn/internal/infrastructure/postgres"
	"github.com/cronicorn/cronicorn/internal/secrets"
)

const seedUserID = "user_seed_dev_local"

type endpointSpec struct {
	name               string
	url                string
	method             domain.Method
	baselineIntervalMs int64
}

var endpoints = []endpointSpec{
	{"httpbin-post", "https://httpbin.org/post", domain.MethodPOST, 60_000},
	{"httpbin-get", "https://httpbin.org/get", domain.MethodGET, 60_000},
	{"httpbin-500", "https://httpbin.org/status/500", domain.MethodPOST, 60_000},
	{"httpbin-503", "https://httpbin.org/status/503", domain.MethodPOST, 60_000},
	{"httpbin-404", "https://httpbin.org/status/404", domain.MethodGET, 60_000},
	{"httpbin-delay", "https://httpbin.org/delay/35", domain.MethodGET, 120_000},
	{"httpbin-put", "https://httpbin.org/put", domain.MethodPUT, 60_000},
	{"httpbin-patch", "https://httpbin.org/patch", domain.MethodPATCH, 60_000},
	{"httpbin-delete", "https://httpbin.org/delete", domain.MethodDELETE, 60_000},
}

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set — run: direnv allow")
	}
	secret := os.Getenv("HEADER_ENCRYPTION_SECRET")
	if secret == "" {
		secret = "dev-only-seed-secret-please-change-0000"
	}

	pool, err := postgres.NewPool(ctx, dbURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	box, err := secrets.New(secret)
	if err != nil {
		log.Fatalf("header encryption: %v", err)
	}

	if _, err := pool.Exec(ctx,
		`INSERT INTO users (id, email, tier) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
		seedUserID, "seed@example.com", domain.TierFree,
	); err != nil {
		log.Fatalf("upsert user: %v", err)
	}

	jobsRepo := postgres.NewJobsRepository(pool, box)

	desc := "seed job for local dev"
	job, err := jobsRepo.CreateJob(ctx, &domain.Job{
		UserID:      seedUserID,
		Name:        "seed job",
		Description: &desc,
		Status:      domain.JobActive,
	})
	if err != nil {
		log.Fatalf("create job: %v", err)
	}

	scheduledAt := time.Now().Add(time.Minute)

	var created int
	var endpointIDs []string
	for _, spec := range endpoints {
		interval := spec.baselineIntervalMs
		ep, err := jobsRepo.AddEndpoint(ctx, &domain.Endpoint{
			JobID:              &job.ID,
			TenantID:           seedUserID,
			BaselineIntervalMs: &interval,
			URL:                spec.url,
			Method:             spec.method,
			NextRunAt:          scheduledAt,
			Name:               spec.name,
		})
		if err != nil {
			log.Fatalf("add endpoint %s: %v", spec.name, err)
		}
		endpointIDs = append(endpointIDs, ep.ID)
		created++
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  Tenant ID:        %s\n", seedUserID)
	fmt.Printf("  Job ID:           %s\n", job.ID)
	fmt.Printf("  Endpoints created: %d\n", created)
	fmt.Printf("  First run at:     %s  (~1 minute from now)\n", scheduledAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  Endpoint IDs:")
	for _, id := range endpointIDs {
		fmt.Printf("    %s\n", id)
	}
	fmt.Println()
	fmt.Println("Start the scheduler and watch it pick these up within a minute:")
	fmt.Println()
	fmt.Println("    go run ./cmd/scheduler")
}
