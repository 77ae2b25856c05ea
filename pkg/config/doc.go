// Package config provides the typed stack configuration model and a per-stack
// store that reads and writes it through the engine.
//
// # Overview
//
// Configuration is a flat map from fully qualified keys (`<project>:<key>`) to
// values. Every value is text plus a secret flag; structured values are stored
// as JSON text and decoded on demand:
//
//	v, _ := config.ObjectValue(map[string]any{"region": "eu-west-1"})
//	err := store.Set(ctx, "settings", v)
//
// Keys without a namespace are qualified with the project name before they are
// written, so "region" in project "web" is stored as "web:region".
//
// # Store
//
// Store binds a Backend (the engine CLI in package auto) to one stack. It
// validates keys before writing, reports bulk failures per key through
// SetAllError, and reconciles a desired map against stored values with Apply.
//
// A Store holds no state of its own besides the stack identity, so stores for
// different stacks can be used from different goroutines at the same time.
// Writes to the same stack must be serialized by the caller.
package config
