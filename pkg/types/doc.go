/*
Package types defines PICCOLO's cluster data model.

Four nested resource kinds form a strict tree: Scenario references a
Package by name, Package lists Models by name, and Model owns a set of
observed Containers. Every kind is uniquely named; (kind, name) is the
persistence key used throughout pkg/statestore.

The three artifact kinds (Scenario, Package, Model) are modeled as a
tagged union via Artifact rather than an interface hierarchy, so the
pure functions in pkg/statemachine can be total over their input without
any behavior living on the data itself.

Container is the one entity the master never writes directly — it is
populated from NodeAgent status reports and only ever read by the
Reconciler.
*/
package types
