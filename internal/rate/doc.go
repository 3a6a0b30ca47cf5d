// Package rate bounds how often keyed operations may happen.
//
// Two implementations sit behind one interface: a Redis fixed-window
// counter (INCR + conditional EXPIRE on the first hit of a window) for
// deployments that share budgets across instances, and an in-process
// token bucket for everything else. Callers choose the key shape; the
// engine uses "identifier|ip" for login and reset requests and the
// session id for refresh.
package rate
