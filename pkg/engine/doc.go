// Package engine defines the value types shared by every layer that talks to the
// external infrastructure engine.
//
// # Error Classification
//
// Every failure surfaced by autostack is an *Error carrying an ErrorKind:
//
//   - Parse: malformed settings, version strings or engine JSON
//   - NotFound: missing stack, plugin, settings file or config key
//   - AlreadyExists: a stack created twice
//   - VersionMismatch: incompatible engine binary (see Code)
//   - Authentication: the engine is not logged in
//   - Spawn: the engine binary could not be started
//   - EngineExecution: non-zero exit, cancellation, or inline program failure
//   - PolicyDenied: an operation guard rejected the operation
//
// Use the Is* helpers or errors.Is with the Err* sentinels:
//
//	if engine.IsNotFound(err) {
//	    stack, err = auto.NewStack(ctx, name, ws)
//	}
//
// # Engine Values
//
// UpdateSummary, StackSummary, PluginInfo, WhoAmIResult, OutputMap and
// Deployment mirror the JSON the engine prints with --json.
package engine
