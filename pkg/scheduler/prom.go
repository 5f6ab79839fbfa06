package scheduler

import (
	prom "github.com/prometheus/client_golang/prometheus"

	capprom "github.com/determined-ai/capsched/internal/prom"
	"github.com/determined-ai/capsched/pkg/pool"
)

const promSubsystem = "scheduler"

var (
	tasksQueued = prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: capprom.Namespace,
		Subsystem: promSubsystem,
		Name:      "tasks_queued",
		Help:      "tasks waiting for resources",
	}, []string{"tag"})
	tasksRunning = prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: capprom.Namespace,
		Subsystem: promSubsystem,
		Name:      "tasks_running",
		Help:      "tasks dispatched to a backend",
	}, []string{"tag"})
	tasksAdmitted = prom.NewCounterVec(prom.CounterOpts{
		Namespace: capprom.Namespace,
		Subsystem: promSubsystem,
		Name:      "tasks_admitted_total",
		Help:      "runs admitted against a resource pool, retries included",
	}, []string{"tag"})
	tasksFinished = prom.NewCounterVec(prom.CounterOpts{
		Namespace: capprom.Namespace,
		Subsystem: promSubsystem,
		Name:      "tasks_finished_total",
		Help:      "tasks that reached a terminal state",
	}, []string{"tag", "state"})
	workersLost = prom.NewCounterVec(prom.CounterOpts{
		Namespace: capprom.Namespace,
		Subsystem: promSubsystem,
		Name:      "workers_lost_total",
		Help:      "runs whose worker terminated abnormally",
	}, []string{"tag"})
	runErrors = prom.NewCounterVec(prom.CounterOpts{
		Namespace: capprom.Namespace,
		Subsystem: promSubsystem,
		Name:      "run_errors_total",
		Help:      "backend runs that returned an error",
	}, []string{"tag"})
	taskDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: capprom.Namespace,
		Subsystem: promSubsystem,
		Name:      "task_run_seconds",
		Help:      "time from admission to the backend returning",
		Buckets:   prom.DefBuckets,
	}, []string{"tag"})
	resourcesAvailable = prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: capprom.Namespace,
		Subsystem: promSubsystem,
		Name:      "resources_available",
		Help:      "unreserved capacity per pool and resource",
	}, []string{"tag", "resource"})
)

func init() {
	prom.MustRegister(tasksQueued)
	prom.MustRegister(tasksRunning)
	prom.MustRegister(tasksAdmitted)
	prom.MustRegister(tasksFinished)
	prom.MustRegister(workersLost)
	prom.MustRegister(runErrors)
	prom.MustRegister(taskDuration)
	prom.MustRegister(resourcesAvailable)
}

func observePool(p *pool.Pool) {
	available := p.Available()
	for _, name := range p.Total().Names() {
		resourcesAvailable.WithLabelValues(p.Tag(), name).Set(available.Get(name))
	}
}
