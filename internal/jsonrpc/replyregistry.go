package jsonrpc

// replyMessage is sent to the reply-registry actor.
type replyMessage struct {
	subscribe bool // true: subscribe(id, ch); false: dispatch(id, result)
	id        ID
	ch        chan replyResult // set when subscribe
	result    replyResult      // set when dispatch
}

// runReplyRegistry is the "reply actor" from §4.2/§5: a single goroutine
// owning a map from outgoing-request ID to the one-shot channel awaiting
// its reply, so no lock is needed — only this goroutine touches the map.
func runReplyRegistry(in <-chan replyMessage) {
	pending := make(map[string]chan replyResult)
	for msg := range in {
		if msg.subscribe {
			pending[msg.id.Key()] = msg.ch
			continue
		}
		if ch, ok := pending[msg.id.Key()]; ok {
			delete(pending, msg.id.Key())
			ch <- msg.result
		}
		// A response for an unknown id (already delivered, or never
		// subscribed) is silently dropped, matching the original's
		// "receiver dropped" tolerance.
	}
	// Channel closed: connection is shutting down. Any still-pending
	// waiters receive a communication failure rather than hanging forever.
	for _, ch := range pending {
		ch <- replyResult{err: CommunicationFailure("connection closed with request still pending")}
	}
}
