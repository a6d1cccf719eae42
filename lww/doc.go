/*
Package lww implements a state-based Last-Writer-Wins element set.

An ElementSet keeps two timestamped logs, one for additions and one for
removals. Each log stores the latest timestamp seen per element and grows
monotonically. Replicas exchange state by merging logs key by key, keeping the
larger timestamp, which makes merge commutative, associative and idempotent.

An element is present when its add timestamp is strictly later than its remove
timestamp. Equal timestamps resolve to absent.

Two requirements are left to the caller:
  - Access to a single ElementSet is not synchronised. Wrap calls with a lock
    if more than one goroutine touches the same instance.
  - Convergence depends on a well-ordered clock. A Clock that repeats or runs
    backwards silently degrades ordering; it is not detected at runtime.
*/
package lww
