// Package scheduler turns schedule definitions (cron expressions or fixed
// intervals) into task-engine enqueues.
//
// It only triggers. Execution, overlap gating, timeouts and retries belong to
// internal/task/engine.
package scheduler
