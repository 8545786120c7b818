/*
Package api implements the API tier of Zoe: the user-facing rules that sit
in front of the scheduling engine.

The Endpoint validates application descriptions and execution names, writes
new execution records, enforces ownership (a user sees and acts on their own
executions, an admin on all of them) and hands every state change to the
master. The master is reached through the Master interface, either remotely
through the command channel client or in process through LocalMaster.

# Submission

ExecutionStart stores the execution as submitted before asking the master to
take it. When the master is unavailable the record is kept and the returned
error wraps types.ErrMasterUnavailable; the submission retry task on the
master submits it later.

# Endpoints

ExecutionEndpoints renders the URL template of every declared port with the
address the backend published for it, substituting {ip_port}. Ports the
backend has not published are omitted.
*/
package api
