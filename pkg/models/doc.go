/*
Package models defines the data structures shared by the keepalive supervisor: the per-proxy
Session, its connectivity Status, the AccountInfo returned at authentication time, and the
persisted Record used to resume a session without re-authenticating.

Core Types:

Status is the connectivity state of a session:

	const (
		StatusConnected       Status = "CONNECTED"
		StatusDisconnected    Status = "DISCONNECTED"
		StatusUnauthenticated Status = "UNAUTHENTICATED"
	)

Session is owned by exactly one runner while that runner is active:

	type Session struct {
		ProxyID         string      // Outbound proxy (host:port or user:pass@host:port)
		ClientID        string      // Random id, stable for the session lifetime (browser_id)
		Credential      string      // Bearer token, cleared on logout
		AccountInfo     AccountInfo // Fields from the session endpoint, must carry "uid"
		Status          Status      // CONNECTED, DISCONNECTED or UNAUTHENTICATED
		RetryCount      int         // Failed ping streak
		LastPersistedAt time.Time   // Last successful store write
	}

State Transitions:

	UNAUTHENTICATED --Authenticate(uid)--> CONNECTED
	CONNECTED/DISCONNECTED --PingSucceeded--> CONNECTED (RetryCount = 0)
	CONNECTED/DISCONNECTED --PingFailed--> DISCONNECTED (RetryCount + 1)
	any --Logout--> UNAUTHENTICATED (credential and account cleared)

A session is UNAUTHENTICATED exactly when its credential is empty or its account has no uid.

Persistence:

Record mirrors the on-disk layout:

	{"timestamp": "<ISO-8601>",
	 "data": {"account_info": {...}, "browser_id": "...", "status": "CONNECTED", "retry_count": 0}}

SessionRow is the same record as a bun model for the "sessions" table. The credential is
never persisted; a restored session takes the credential from configuration.

Thread Safety:

None of these types are safe for concurrent mutation. Each session belongs to one runner.
*/
package models
