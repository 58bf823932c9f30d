// Package engine runs jobs asynchronously. Submit validates parameters,
// records a pending job and hands it to a bounded worker pool; each worker
// walks the job through its steps, publishing progress to the store and to
// SSE subscribers, and invokes the job's generator on the final step. The
// Status and Result readers expose the job to pollers.
package engine
