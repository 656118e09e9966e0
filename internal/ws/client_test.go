package ws

import "testing"

// A handler can hold a client obtained from Hub.Lookup while that
// connection disconnects. A send racing the teardown must be discarded,
// never panic, so the in-flight operation still completes for its caller.
func TestSendAfterCloseIsDiscarded(t *testing.T) {
	c := testClient()

	c.trySend([]byte("before"))
	c.closeSend()
	c.trySend([]byte("after"))

	if len(c.send) != 1 {
		t.Errorf("Expected only the pre-close event queued, got %d", len(c.send))
	}

	// Teardown runs from both pumps; closing twice must be safe
	c.closeSend()

	select {
	case <-c.done:
	default:
		t.Error("Expected done to be closed after closeSend")
	}
}

func TestEmitAfterCloseIsDiscarded(t *testing.T) {
	c := testClient()
	c.closeSend()

	c.emit("updateChat", chatLine{Sender: "INFO", Text: "late notice"})

	if len(c.send) != 0 {
		t.Error("Expected emit on a closed connection to be dropped")
	}
}
