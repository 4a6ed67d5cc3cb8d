/*
Package events provides the in-memory event broker used to fan out cluster
events inside a Burrow manager.

Publishers never block on slow subscribers. Publish hands the event to a
buffered channel (100 events) and a single broadcast loop copies it into every
subscriber channel (50 events each). A subscriber whose buffer is full misses
the event.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		fmt.Println(ev.Type, ev.Message)
	}

Event types follow an "<entity>.<verb>" naming scheme: host.registered,
volume.attached, snapshot.purged, backup.completed and so on. Metadata carries
entity identifiers such as "volume", "snapshot" or "host_id".

Events are local to the node that produced them and are not replicated
through raft. The eventlog package subscribes to the broker to forward events
to the syslog target configured in the syslogTarget setting.
*/
package events
