// Package proxy keeps the proxy access bookkeeping of running executions.
//
// The reverse proxy in front of execution endpoints is an external component.
// It writes a Common Log Format access log in which every execution is served
// under /zoe/<execution id>/. The Updater tails that log and records the last
// access time of each running execution through the platform manager.
package proxy
