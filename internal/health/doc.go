// Package health provides composable health probes and the HTTP handlers
// serving them on the ops port.
//
// Probes combine with [All], [Named] and [Timeout]; [Fixed] is a constant.
// [CheckFunc] adapts a plain function into a [Probe].
//
// [ShutdownGate] fails readiness as soon as shutdown starts, so load
// balancers stop routing writes before in-flight requests drain.
package health
