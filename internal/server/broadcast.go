package server

// Broadcaster hands an encoded frame to a set of clients. Implementations
// must not block; clients that cannot take the frame are returned so the
// hub can drop them.
type Broadcaster interface {
	Broadcast(recipients []*Client, frame []byte) (failed []*Client)
}

// channelBroadcaster queues frames on each client's send channel.
type channelBroadcaster struct{}

func (channelBroadcaster) Broadcast(recipients []*Client, frame []byte) []*Client {
	var failed []*Client
	for _, c := range recipients {
		if !c.enqueue(frame) {
			failed = append(failed, c)
		}
	}
	return failed
}
