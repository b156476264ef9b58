// Package router assembles feature modules into one versioned route table.
//
// Modules declare routes with a Guard instead of a free-form middleware
// list. The assembler owns the mapping from Guard to pre-handlers, so a
// route cannot forget its authentication hook, and it refuses to build a
// table with conflicting or ungated mutating routes.
//
// # Usage
//
//	table, err := router.Assemble(modules, services, router.Hooks{Token: gate.Handler()})
//	if err != nil {
//	    return err
//	}
//
//	if err := table.Mount(engine.Group("/")); err != nil {
//	    return err
//	}
//
// Every route is reachable at /{version}{prefix}{path}.
package router
