// Package jobs runs the background schedule: a periodic reconciliation
// against the backend's job listing, so progress missed while the push
// channel was down is recovered.
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"
)

// Reconciler is the subset of the session service the scheduler needs.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// StartScheduler starts the background job scheduler. An interval of 0
// disables scheduled reconciliation. Stop the returned scheduler on
// shutdown.
func StartScheduler(r Reconciler, intervalMinutes int) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	startReconcileJob(s, r, intervalMinutes)

	log.Println("Starting background job scheduler...")
	s.StartAsync()
	return s
}

func startReconcileJob(s *gocron.Scheduler, r Reconciler, intervalMinutes int) {
	if intervalMinutes == 0 {
		log.Println("Reconcile interval is 0, scheduled reconciliation is disabled.")
		return
	}

	log.Printf("Scheduling job reconciliation every %d minutes.", intervalMinutes)

	_, err := s.Every(intervalMinutes).Minutes().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := r.Reconcile(ctx); err != nil {
			log.Printf("Scheduled reconciliation failed: %v", err)
		}
	})
	if err != nil {
		log.Printf("Error scheduling reconciliation job: %v", err)
	}
}
