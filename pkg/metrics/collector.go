package metrics

import (
	"time"

	"github.com/cuemby/magpie/pkg/storage"
	"github.com/cuemby/magpie/pkg/types"
)

// Collector periodically samples inventory gauges from the store
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectTaskMetrics()
	c.collectScheduleMetrics()
	c.collectExecutionMetrics()
}

func (c *Collector) collectTaskMetrics() {
	tasks, err := c.store.ListTasks()
	if err != nil {
		return
	}

	counts := map[types.TaskStatus]int{
		types.TaskStatusActive:  0,
		types.TaskStatusPaused:  0,
		types.TaskStatusRunning: 0,
	}
	for _, task := range tasks {
		counts[task.Status]++
	}

	for status, count := range counts {
		TasksTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectScheduleMetrics() {
	schedules, err := c.store.ListSchedules()
	if err != nil {
		return
	}

	active := 0
	for _, sched := range schedules {
		if sched.Active {
			active++
		}
	}
	SchedulesActive.Set(float64(active))
}

func (c *Collector) collectExecutionMetrics() {
	statuses := []types.ExecutionStatus{
		types.ExecutionPending,
		types.ExecutionRunning,
		types.ExecutionSuccess,
		types.ExecutionFailed,
		types.ExecutionCancelled,
	}
	for _, status := range statuses {
		executions, err := c.store.ListExecutionsByStatus(status)
		if err != nil {
			continue
		}
		ExecutionsTotal.WithLabelValues(string(status)).Set(float64(len(executions)))
	}
}
