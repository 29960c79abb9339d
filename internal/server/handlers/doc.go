// Package handlers implements the HTTP endpoints of the prefsd API. Each handler group
// depends on a narrow interface so it can be tested without the daemon.
package handlers
