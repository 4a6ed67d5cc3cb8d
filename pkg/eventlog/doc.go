/*
Package eventlog forwards cluster events to a remote syslog daemon.

The Forwarder subscribes to the manager's event broker and writes each event
as one zerolog JSON line through log/syslog. The destination is the
syslogTarget setting, re-read for every event: an empty value disables
forwarding and a new value reconnects on the next event.
*/
package eventlog
