package sms

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptPort replays canned modem responses: each Write pops the next reply
// and makes it available to Read. An empty reply simulates a silent modem.
type scriptPort struct {
	mu      sync.Mutex
	writes  []string
	replies []string
	ch      chan string
	closed  bool
}

func newScriptPort(replies ...string) *scriptPort {
	return &scriptPort{replies: replies, ch: make(chan string, len(replies)+1)}
}

func (p *scriptPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, string(b))
	if len(p.replies) > 0 {
		reply := p.replies[0]
		p.replies = p.replies[1:]
		if reply != "" {
			p.ch <- reply
		}
	}
	return len(b), nil
}

func (p *scriptPort) Read(b []byte) (int, error) {
	s, ok := <-p.ch
	if !ok {
		return 0, io.EOF
	}
	return copy(b, s), nil
}

func (p *scriptPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	return nil
}

func (p *scriptPort) written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

func initReplies() []string {
	return []string{"\r\nOK\r\n", "\r\nOK\r\n", "\r\nOK\r\n", "\r\nOK\r\n"}
}

func newTestModem(t *testing.T, extra ...string) (*Modem, *scriptPort) {
	t.Helper()
	port := newScriptPort(append(initReplies(), extra...)...)
	m := New(port, "+639170000000")
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return m, port
}

func TestInitConfiguresChannel(t *testing.T) {
	m, port := newTestModem(t)
	defer m.Close()

	if !m.Initialized() {
		t.Fatal("expected modem to report initialized")
	}
	writes := port.written()
	wantPrefixes := []string{"AT\r", "ATE0\r", "AT+CMGF=1\r", `AT+CSCA="+639170000000"` + "\r"}
	if len(writes) != len(wantPrefixes) {
		t.Fatalf("writes = %q", writes)
	}
	for i, want := range wantPrefixes {
		if writes[i] != want {
			t.Fatalf("write[%d] = %q, want %q", i, writes[i], want)
		}
	}
}

func TestSendTextSuccess(t *testing.T) {
	m, port := newTestModem(t,
		"\r\nOK\r\n",          // AT+CMGF=1
		"\r\n> ",              // AT+CMGS prompt
		"\r\n+CMGS: 12\r\nOK", // body acknowledgment
	)
	defer m.Close()

	out, err := m.SendText(context.Background(), "+639171234567", "hello")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if !out.Success || out.ProviderMessage != "+CMGS: 12" {
		t.Fatalf("outcome = %+v", out)
	}

	writes := port.written()
	last := writes[len(writes)-1]
	if !strings.HasSuffix(last, ctrlZ) {
		t.Fatalf("body write %q must end with Ctrl-Z", last)
	}
	if !strings.Contains(strings.Join(writes, ""), `AT+CMGS="+639171234567"`) {
		t.Fatalf("missing CMGS command in %q", writes)
	}
}

func TestSendTextModemRejects(t *testing.T) {
	m, _ := newTestModem(t,
		"\r\nOK\r\n",
		"\r\n> ",
		"\r\n+CMS ERROR: 500\r\n",
	)
	defer m.Close()

	out, err := m.SendText(context.Background(), "+639171234567", "hello")
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if out.Success {
		t.Fatal("outcome must not report success")
	}
	if out.ErrorCode == "" || !strings.Contains(out.ErrorCode, "CMS ERROR: 500") {
		t.Fatalf("error code = %q", out.ErrorCode)
	}
}

func TestSendPDUWritesEncodedPayload(t *testing.T) {
	m, port := newTestModem(t,
		"\r\nOK\r\n", // AT+CMGF=0
		"\r\n> ",
		"\r\n+CMGS: 3\r\nOK",
	)
	defer m.Close()

	out, err := m.SendPDU(context.Background(), "+639171234567", "hello")
	if err != nil {
		t.Fatalf("SendPDU: %v", err)
	}
	if !out.Success {
		t.Fatalf("outcome = %+v", out)
	}

	joined := strings.Join(port.written(), "")
	if !strings.Contains(joined, "AT+CMGF=0\r") {
		t.Fatal("pdu send must switch to PDU mode")
	}
	if !strings.Contains(joined, "AT+CMGS=19\r") {
		t.Fatalf("missing TPDU length command in %q", joined)
	}
	if !strings.Contains(joined, "0011000C913619173254760000AA05E8329BFD06"+ctrlZ) {
		t.Fatalf("missing encoded payload in %q", joined)
	}
}

func TestSendTimesOutOnSilentModem(t *testing.T) {
	m, _ := newTestModem(t,
		"\r\nOK\r\n",
		"", // silent after the CMGS command
	)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := m.SendText(ctx, "+639171234567", "hello")
	if !errors.Is(err, ErrSendTimeout) {
		t.Fatalf("err = %v, want ErrSendTimeout", err)
	}
}

func TestSendWithoutInitFails(t *testing.T) {
	m := New(newScriptPort(), "")
	if _, err := m.SendText(context.Background(), "+63917", "x"); !errors.Is(err, ErrModemNotInitialized) {
		t.Fatalf("err = %v, want ErrModemNotInitialized", err)
	}
	if _, err := m.SendPDU(context.Background(), "+63917", "x"); !errors.Is(err, ErrModemNotInitialized) {
		t.Fatalf("err = %v, want ErrModemNotInitialized", err)
	}
}

func TestInitFailureKeepsChannelForRetry(t *testing.T) {
	port := newScriptPort(append([]string{"\r\nERROR\r\n"}, append(initReplies(),
		"\r\nOK\r\n",
		"\r\n> ",
		"\r\n+CMGS: 7\r\nOK",
	)...)...)
	m := New(port, "+639170000000")

	if err := m.Init(context.Background()); err == nil {
		t.Fatal("expected init failure")
	}
	if m.Initialized() {
		t.Fatal("modem must not report initialized after a failed init")
	}
	if _, err := m.SendText(context.Background(), "+63917", "x"); !errors.Is(err, ErrModemNotInitialized) {
		t.Fatalf("err = %v, want ErrModemNotInitialized", err)
	}

	// The port stays open after a failed init; a later retry recovers the
	// channel without re-dialing.
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("re-Init: %v", err)
	}
	out, err := m.SendText(context.Background(), "+639171234567", "go")
	if err != nil || !out.Success {
		t.Fatalf("SendText after recovery = (%+v, %v)", out, err)
	}
	m.Close()
}

func TestQueryRegistration(t *testing.T) {
	cases := []struct {
		reply string
		want  Registration
	}{
		{"\r\n+CREG: 0,1\r\nOK\r\n", RegisteredHome},
		{"\r\n+CREG: 0,5\r\nOK\r\n", RegisteredRoaming},
		{"\r\n+CREG: 0,2\r\nOK\r\n", Searching},
		{"\r\n+CREG: 0,3\r\nOK\r\n", Denied},
		{"\r\n+CREG: 0,0\r\nOK\r\n", NotRegistered},
		{"\r\nOK\r\n", RegistrationUnknown},
	}
	for _, tc := range cases {
		m, _ := newTestModem(t, tc.reply)
		got, err := m.QueryRegistration(context.Background())
		if err != nil {
			t.Fatalf("QueryRegistration(%q): %v", tc.reply, err)
		}
		if got != tc.want {
			t.Errorf("QueryRegistration(%q) = %s, want %s", tc.reply, got, tc.want)
		}
		m.Close()
	}
}
