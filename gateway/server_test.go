package gateway

import (
	"net"
	"testing"
	"time"

	iec104 "github.com/openfieldgw/iec104-gateway"
	"github.com/openfieldgw/iec104-gateway/point"
	"github.com/openfieldgw/iec104-gateway/store"
)

func startTestServer(t *testing.T, maxConn int) (*Server, *store.Store) {
	t.Helper()
	s := store.New(8, nil)
	s.Start()
	t.Cleanup(s.Shutdown)

	srv := NewServer(Config{Address: "127.0.0.1:0", MaxConnections: maxConn, ReadTimeout: 2 * time.Second}, s, nil)
	go srv.Serve()
	t.Cleanup(srv.Stop)

	waitForAddr(t, srv)
	return srv, s
}

func waitForAddr(t *testing.T, srv *Server) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if srv.Addr() != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("server never bound a listen address")
}

func dialClient(t *testing.T, srv *Server) *iec104.Client {
	t.Helper()
	c := iec104.NewClient(srv.Addr().String(), 2*time.Second, nil, nil)
	if err := c.Connect(); err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

// Scenario A: a single spontaneous update reaches one connected client.
func TestSpontaneousUpdateReachesOneClient(t *testing.T) {
	srv, s := startTestServer(t, 10)
	client := dialClient(t, srv)

	s.Update(point.New(1, 1001, point.MMeNc1, point.F32Value(123.45), true, 0))

	select {
	case asdu := <-client.ASDUs():
		if asdu.TypeID() != iec104.MMeNc1 {
			t.Fatalf("want type id %d, got %d", iec104.MMeNc1, asdu.TypeID())
		}
		if asdu.COT() != iec104.CotSpt {
			t.Fatalf("want cot SPONTANEOUS, got %d", asdu.COT())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for spontaneous update")
	}
}

// Scenario B: General Interrogation of 3 preloaded points yields
// ACTIVATION_CON, three data ASDUs with COT=INTERROGATED_BY_STATION, and
// ACTIVATION_TERMINATION: five ASDUs total.
func TestGeneralInterrogationRepliesWithSnapshotAndTerminates(t *testing.T) {
	srv, s := startTestServer(t, 10)
	s.Update(point.New(1, 1001, point.MMeNc1, point.F32Value(10), true, 0))
	s.Update(point.New(1, 1002, point.MMeNc1, point.F32Value(20), true, 0))
	s.Update(point.New(1, 1003, point.MSpNa1, point.BoolValue(true), true, 0))

	// let the store's dispatcher drain the preloaded updates while no client
	// is connected, so no spontaneous ASDU is interleaved with the GI reply
	// collected below. (Update itself makes the points visible to Snapshot
	// immediately.)
	time.Sleep(2 * store.BatchInterval)

	client := dialClient(t, srv)

	gi := iec104.NewASDU(iec104.CIcNa1, false, iec104.CotAct, 1)
	gi.AddInformationObject(iec104.NewInformationObject(0, []byte{20}))
	if err := client.Send(gi); err != nil {
		t.Fatalf("send GI: %v", err)
	}

	var got []*iec104.ASDU
	deadline := time.After(3 * time.Second)
collect:
	for {
		select {
		case asdu := <-client.ASDUs():
			got = append(got, asdu)
			if asdu.COT() == iec104.CotActTerm {
				break collect
			}
		case <-deadline:
			t.Fatalf("timed out collecting GI reply, got %d asdus so far", len(got))
		}
	}

	if len(got) != 5 {
		t.Fatalf("want 5 asdus (ACTIVATION_CON + 3 data + ACTIVATION_TERMINATION), got %d", len(got))
	}
	if got[0].COT() != iec104.CotActCon {
		t.Fatalf("want first reply ACTIVATION_CON, got cot %d", got[0].COT())
	}
	for _, asdu := range got[1:4] {
		if asdu.COT() != iec104.CotInrogen {
			t.Fatalf("want data asdu cot INTERROGATED_BY_STATION, got %d", asdu.COT())
		}
	}
	if got[4].COT() != iec104.CotActTerm {
		t.Fatalf("want last reply ACTIVATION_TERMINATION, got cot %d", got[4].COT())
	}
}

// Scenario D: once MaxConnections is reached, further dials are closed
// immediately and the active set never exceeds the cap.
func TestAdmissionCapRejectsOverflowConnections(t *testing.T) {
	srv, _ := startTestServer(t, 2)
	_ = dialClient(t, srv)
	_ = dialClient(t, srv)

	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if srv.ActiveConnectionCount() == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := srv.ActiveConnectionCount(); got != 2 {
		t.Fatalf("want 2 active connections before overflow, got %d", got)
	}

	for i := 0; i < 5; i++ {
		conn, err := net.Dial("tcp", srv.Addr().String())
		if err != nil {
			t.Fatalf("dial overflow connection: %v", err)
		}
		buf := make([]byte, 1)
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, err = conn.Read(buf)
		if err == nil {
			t.Fatalf("expected overflow connection to be closed by the server")
		}
		conn.Close()
	}

	if got := srv.ActiveConnectionCount(); got != 2 {
		t.Fatalf("want active connections unchanged at 2 after overflow attempts, got %d", got)
	}
}

// Scenario F: a peer whose server-side socket has been closed out-of-band
// (no STOPDT) is dropped from the active set, and a broadcast still reaches
// the surviving client.
func TestDeadConnectionIsQuarantinedOnNextBroadcast(t *testing.T) {
	srv, s := startTestServer(t, 10)
	clientA := dialClient(t, srv)
	clientB := iec104.NewClient(srv.Addr().String(), 2*time.Second, nil, nil)
	if err := clientB.Connect(); err != nil {
		t.Fatalf("client B connect: %v", err)
	}
	t.Cleanup(clientB.Close)

	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) && srv.ActiveConnectionCount() != 2 {
		time.Sleep(5 * time.Millisecond)
	}

	// Close B's server-side socket out-of-band (no STOPDT). Either the
	// handler's read loop notices the closed socket and runs the close
	// callback, or the next broadcast's write fails and quarantines it;
	// whichever comes first, B must leave the active set. B was dialed
	// second, so it is the second entry in the server's active set.
	srv.mu.Lock()
	if len(srv.conns) != 2 {
		srv.mu.Unlock()
		t.Fatalf("want 2 active connections, got %d", len(srv.conns))
	}
	dead := srv.conns[1]
	srv.mu.Unlock()
	dead.conn.Close()

	s.Update(point.New(1, 2001, point.MMeNc1, point.F32Value(1), true, 0))

	select {
	case asdu := <-clientA.ASDUs():
		if asdu.TypeID() != iec104.MMeNc1 {
			t.Fatalf("want type id %d, got %d", iec104.MMeNc1, asdu.TypeID())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery to surviving client")
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && srv.ActiveConnectionCount() != 1 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := srv.ActiveConnectionCount(); got != 1 {
		t.Fatalf("want active connections to settle at 1 after quarantine, got %d", got)
	}
}
