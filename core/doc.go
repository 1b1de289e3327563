// Package core implements the command kernel of zkernel.
//
// Kernel objects are pinned to a thread slot: a mailbox driven by exactly
// one goroutine. Objects on different slots affect each other only by
// sending Commands. Owned objects form a tree whose termination cascades
// bottom-up through term, term_req and term_ack, with a sequence-number
// rendezvous so that no object is destroyed while a command for it is in
// flight.
//
// Pipes carry Frames between a socket and its peers with watermark based
// flow control and a termination handshake that delivers or drops pending
// messages deterministically. Context is the registry that owns the slots,
// the reaper and the worker pool.
//
// Building with the debug tag compiles in checks that every object is only
// touched from the goroutine driving its slot.
package core
