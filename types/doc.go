// Package types defines the shared domain types for the kaizen
// self-improvement core: tasks and delegations, transcript evaluations,
// reflections, episodes, and orchestrator versions.
//
// Types here are plain data carriers. Behavior lives in the packages that
// produce or consume them (evaluation, episode, archive, improvement).
package types
