/*
Package api is the read-only admin HTTP surface for a raftfsm.Node:
liveness/readiness probes, the Prometheus scrape endpoint, and the session
admin surface (GET /sessions, GET /sessions/{id}, GET /sessions/{id}/watch)
that reports session registration-half state for operability without
implementing any session policy itself. It never proposes Raft commands;
every write to the session state machine goes through raftfsm.Node.Apply
instead.

# Routes

	GET /health             liveness: always 200 while the process is up
	GET /ready               readiness: 200 once this node has a known leader
	GET /metrics             Prometheus scrape endpoint
	GET /sessions            every registered session's storage.SessionRecord view
	GET /sessions/{id}       one session's storage.SessionRecord view
	GET /sessions/{id}/watch long-polls the node's event broker for the next
	                         lifecycle notice naming that session

ReadOnlyMiddleware rejects anything but GET/HEAD at the HTTP layer, since
this surface has no write routes to begin with.
*/
package api
