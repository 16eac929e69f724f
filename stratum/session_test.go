package stratum

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"
)

func pipeDialer(server net.Conn) Dialer {
	return func(ctx context.Context, addr string) (Transport, error) {
		return server, nil
	}
}

func newPipedSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	client, server := net.Pipe()

	cfg := DefaultSessionConfig("pipe")
	cfg.ResponseTimeout = time.Second
	sess := NewSession(cfg, pipeDialer(client))

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess, server
}

func TestSendRequestCorrelatesResponseByID(t *testing.T) {
	sess, server := newPipedSession(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		reader := bufio.NewReader(server)
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		_ = line
		server.Write([]byte(`{"id":1,"result":true,"error":null}` + "\n"))
	}()

	req := NewAuthorizeRequest(1, "worker.1", "x")
	resp, err := sess.SendRequest(req)
	<-done
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %v", resp.Error)
	}
}

func TestSendRequestTimesOutWithNoResponse(t *testing.T) {
	sess, server := newPipedSession(t)

	// Drain the request off the wire but never reply, so SendRequest's
	// write succeeds and it is left waiting on the response timeout.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()

	req := NewAuthorizeRequest(1, "worker.1", "x")
	_, err := sess.SendRequest(req)
	if err == nil {
		t.Fatal("expected a timeout error with no server response")
	}
}

func TestReadLoopForwardsNotifications(t *testing.T) {
	sess, server := newPipedSession(t)

	go func() {
		server.Write([]byte(`{"method":"mining.set_difficulty","params":[16]}` + "\n"))
	}()

	select {
	case note := <-sess.Notifications():
		if note.Method != MethodSetDifficulty {
			t.Fatalf("expected %s, got %s", MethodSetDifficulty, note.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestSendRequestFailsWhenNotConnected(t *testing.T) {
	sess := NewSession(DefaultSessionConfig("pipe"), nil)
	_, err := sess.SendRequest(NewAuthorizeRequest(1, "worker.1", "x"))
	if err == nil {
		t.Fatal("expected an error sending a request before connecting")
	}
}
