// Package shm implements a single-producer single-consumer byte queue
// backed by a memory-mapped file, intended for co-located processes
// communicating through /dev/shm.
//
// The mapped region starts with a 24-byte control block: a u64 capacity,
// an atomic u64 head (the producer's write index) and an atomic u64 tail
// (the consumer's read index), followed by the payload ring. Head and tail
// grow monotonically; offsets into the ring are taken modulo capacity.
// The head/tail atomics are the only synchronization: the producer
// publishes payload bytes with a release store of head, the consumer
// acknowledges with a release store of tail, and each side acquire-loads
// the opposite index.
package shm
