// Package domain defines the core types and interfaces of the screen fleet
// coordinator.
//
// Concept-oriented files (screen.go, content.go, notification.go, dispatch.go, ...)
// hold shared types and the repository/collaborator contracts. No implementation
// code lives here; interfaces sit on the consumer side to avoid circular imports.
package domain
