// Package auto drives the infrastructure engine programmatically. It wraps
// the engine's CLI so stacks can be created, configured, deployed and
// destroyed from Go code.
//
// A Workspace is the execution context: a work directory with project and
// stack settings, an engine binary, and optionally an inline program. A Stack
// is a named instance of the program inside a workspace.
//
// Programs are either local (the engine launches the program in the work
// directory) or inline (a program.RunFunc the engine calls back into over
// a loopback gRPC connection):
//
//	fn := func(ctx *program.Context) error {
//		return ctx.Export("greeting", "hello")
//	}
//	s, err := auto.UpsertStackInlineSource(ctx, "dev", "demo", fn)
//	if err != nil {
//		return err
//	}
//	res, err := s.Up(ctx, auto.OnEvent(func(ev events.EngineEvent) {
//		log.Println(ev.Type())
//	}))
//
// Every engine command runs in its own process. Errors are *engine.Error
// values classified by kind; failed engine commands carry the captured
// stderr. A workspace can record operations in a stores.Store journal and
// check a policy.Guard before each lifecycle operation.
package auto
