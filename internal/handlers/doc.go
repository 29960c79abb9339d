// Package handlers contains the concrete preference handlers registered by the daemon.
//
// Every handler reads committed values back through a prefs.ValueReader (the value
// store) so ValuesForKey always reflects the last commit, including restored defaults.
package handlers
