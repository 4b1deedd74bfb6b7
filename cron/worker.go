package cron

import (
	"context"
	"log"
	"time"

	"clinsched/config"
	"clinsched/services/lease"

	"github.com/hibiken/asynq"
)

const TypeLeaseSweep = "lease:sweep"

// Expiry is passive: readers treat a lapsed lease as gone the moment its
// deadline passes. The sweep only reclaims memory behind them, so its cadence
// is a hygiene knob, not a correctness one.
const sweepInterval = 5 * time.Minute

// InitLeaseSweeper runs the background worker that periodically purges
// expired lease records.
func InitLeaseSweeper(mgr lease.Manager) {
	redisOpts := asynq.RedisClientOpt{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisQueueDB,
	}

	srv := asynq.NewServer(
		redisOpts,
		asynq.Config{
			Concurrency: 1,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeLeaseSweep, handleLeaseSweep(mgr))

	scheduler := asynq.NewScheduler(redisOpts, &asynq.SchedulerOpts{Location: time.UTC})
	if _, err := scheduler.Register("@every "+sweepInterval.String(), asynq.NewTask(TypeLeaseSweep, nil)); err != nil {
		log.Fatalf("[LeaseSweeper] failed to register sweep schedule: %v", err)
	}

	go func() {
		if err := scheduler.Run(); err != nil {
			log.Printf("[LeaseSweeper] scheduler stopped: %v", err)
		}
	}()

	go func() {
		log.Println("[LeaseSweeper] starting async worker...")
		const maxAttempts = 5

		for attempts := 1; attempts <= maxAttempts; attempts++ {
			if err := srv.Run(mux); err != nil {
				log.Printf("[LeaseSweeper] attempt %d/%d failed to start worker: %v", attempts, maxAttempts, err)

				if attempts == maxAttempts {
					log.Fatal("[LeaseSweeper] max retry attempts reached, exiting")
				}
				time.Sleep(time.Duration(attempts*2) * time.Second)
			} else {
				break
			}
		}
	}()
}

func handleLeaseSweep(mgr lease.Manager) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		removed, err := mgr.Sweep(ctx)
		if err != nil {
			log.Printf("[LeaseSweeper] sweep failed: %v", err)
			return err
		}
		if removed > 0 {
			log.Printf("[LeaseSweeper] reclaimed %d expired lease records", removed)
		}
		return nil
	}
}
