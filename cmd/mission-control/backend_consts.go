package main

import "time"

const (
	txQueueSize       = 1024 // capacity of each backend's own async TX ring
	serialReadBufSize = 4096 // per read() buffer for the serial backend

	// largeBufferReclaimThreshold is the capacity above which the serial RX
	// accumulation buffer is discarded and reallocated once fully drained.
	largeBufferReclaimThreshold = 16 * 1024

	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep
