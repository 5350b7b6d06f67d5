// Package queue schedules episode ingestion: one FIFO per group with a
// dedicated worker goroutine, so a group's episodes apply in submission
// order, and a global semaphore bounding concurrent extractions across
// all groups. Submission never blocks; processing failures are logged
// and counted, never propagated.
package queue
