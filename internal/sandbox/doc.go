/*
Package sandbox executes untrusted card bundles inside isolated goja runtimes.

# Overview

Each session owns one Runtime. A bundle is plain JavaScript that calls the
global defineStackBundle exactly once with a factory; the factory receives
{ui} and returns the bundle object:

	defineStackBundle(function (ctx) {
	  var ui = ctx.ui;
	  return {
	    id: "inventory",
	    title: "Inventory",
	    initialSessionState: {},
	    cards: {
	      lowStock: {
	        render: function (c) { return ui.text("ok"); },
	        handlers: { reorder: function (c, args) { c.dispatchDomainAction("inventory", "reorder", args); } }
	      }
	    }
	  };
	});

# Limits

Every invocation runs under a wall-clock deadline enforced by a watchdog that
interrupts the VM. The interrupt cannot be caught by script code. The same
watchdog samples process heap growth against MaxMemoryBytes, and source size
is capped before evaluation. Call depth is bounded by MaxCallStackDepth.

# Security Model

Sandboxed code cannot:
  - Reach require, process or module
  - Hold references to host values (state crosses as JSON)
  - Schedule work outside an invocation (timers are no-ops)
  - Replace the ui namespace (frozen, non-writable)

Render results and dispatched intents are validated by the schema package
before they leave the engine.

# Usage Example

	engine := sandbox.NewEngine(sandbox.DefaultConfig(), logger)
	meta, err := engine.CreateSession(ctx, "inventory", "s1", source)
	node, err := engine.Render(ctx, "s1", "lowStock", snapshot)
	intents, err := engine.Event(ctx, "s1", "lowStock", "reorder", args, snapshot)
*/
package sandbox
