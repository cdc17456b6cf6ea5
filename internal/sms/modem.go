// Package sms – serial modem adapter.
//
// The Modem owns exclusive access to one physical serial channel. It is a
// singleton resource, not a pool: only one AT transaction may be in flight
// system-wide, enforced by an internal mutex, so concurrent dispatch
// requests queue FIFO rather than interleave on a protocol that is not
// re-entrant.
//
// The channel is initialized once at startup (echo off, messaging mode,
// SMS-center address). If initialization fails, every call reports
// ErrModemNotInitialized rather than silently no-op-ing, so operators can
// distinguish hardware-down from transient send failures.
//
// A send may block for several seconds awaiting hardware acknowledgment;
// callers pass a context with the send timeout and a deadline expiry is
// reported as a failed outcome. There is no mid-flight cancellation on the
// serial channel, so an abandoned wait just stops listening.

package sms

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// Port is the narrow serial-channel surface the adapter needs. serial.Port
// satisfies it; tests use an in-memory scripted implementation.
type Port interface {
	io.ReadWriter
	Close() error
}

// Outcome is the result of one send call.
type Outcome struct {
	Success         bool   `json:"success"`
	ProviderMessage string `json:"provider_message,omitempty"` // e.g. "+CMGS: 12"
	ErrorCode       string `json:"error_code,omitempty"`       // e.g. "CMS ERROR: 500"
}

// Registration is the network attachment state reported by AT+CREG?.
type Registration string

const (
	RegisteredHome      Registration = "registered_home"
	RegisteredRoaming   Registration = "registered_roaming"
	Searching           Registration = "searching"
	Denied              Registration = "denied"
	NotRegistered       Registration = "not_registered"
	RegistrationUnknown Registration = "unknown"
)

const (
	ctrlZ = "\x1a"
	// promptTerm is what the modem emits when it is ready for message data.
	promptTerm = ">"
)

var (
	cmgsRE = regexp.MustCompile(`\+CMGS:\s*\d+`)
	cmsRE  = regexp.MustCompile(`\+CMS ERROR:\s*\d+`)
	cregRE = regexp.MustCompile(`\+CREG:\s*\d+\s*,\s*(\d+)`)
)

// Modem adapts AT-command semantics over an exclusive serial channel.
type Modem struct {
	mu          sync.Mutex
	port        Port
	smsc        string
	initialized bool
}

// Dial opens the serial device, constructs the adapter, and initializes the
// channel. On initialization failure the adapter is still returned (so its
// calls can report ErrModemNotInitialized) alongside the error.
func Dial(device string, baud int, smsc string) (*Modem, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return &Modem{smsc: smsc}, fmt.Errorf("open %s: %w", device, err)
	}
	m := New(port, smsc)
	if err := m.Init(context.Background()); err != nil {
		return m, err
	}
	return m, nil
}

// New wraps an already-open port. Call Init before sending.
func New(port Port, smsc string) *Modem {
	return &Modem{port: port, smsc: smsc}
}

// Init configures the channel: echo off, TEXT messaging mode, and the
// SMS-center address when one is configured. Init is idempotent and may be
// called again after a failure to re-initialize.
func (m *Modem) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.port == nil {
		return ErrModemNotInitialized
	}
	cmds := []string{"AT", "ATE0", "AT+CMGF=1"}
	if m.smsc != "" {
		cmds = append(cmds, fmt.Sprintf(`AT+CSCA="%s"`, m.smsc))
	}
	for _, cmd := range cmds {
		if _, err := m.command(ctx, cmd, "OK", "ERROR"); err != nil {
			m.initialized = false
			return fmt.Errorf("modem init %q: %w", cmd, err)
		}
	}
	m.initialized = true
	log.Info().Str("smsc", m.smsc).Msg("modem initialized")
	return nil
}

// Initialized reports whether the channel is open and configured.
func (m *Modem) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Close releases the serial channel.
func (m *Modem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = false
	if m.port == nil {
		return nil
	}
	return m.port.Close()
}

// SendText delivers message to recipient in TEXT mode (AT+CMGF=1).
func (m *Modem) SendText(ctx context.Context, recipient, message string) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return Outcome{}, ErrModemNotInitialized
	}
	if _, err := m.command(ctx, "AT+CMGF=1", "OK", "ERROR"); err != nil {
		return Outcome{ErrorCode: errCode(err)}, err
	}
	if _, err := m.command(ctx, fmt.Sprintf(`AT+CMGS="%s"`, recipient), promptTerm, "ERROR"); err != nil {
		return Outcome{ErrorCode: errCode(err)}, err
	}
	return m.finishSend(ctx, message+ctrlZ)
}

// SendPDU delivers message to recipient in PDU mode (AT+CMGF=0), encoding
// the body as an SMS-SUBMIT TPDU.
func (m *Modem) SendPDU(ctx context.Context, recipient, message string) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return Outcome{}, ErrModemNotInitialized
	}
	pdu, tpduLen, err := EncodeSubmit(recipient, message)
	if err != nil {
		return Outcome{ErrorCode: err.Error()}, fmt.Errorf("%w: %v", ErrUnencodable, err)
	}
	if _, err := m.command(ctx, "AT+CMGF=0", "OK", "ERROR"); err != nil {
		return Outcome{ErrorCode: errCode(err)}, err
	}
	if _, err := m.command(ctx, fmt.Sprintf("AT+CMGS=%d", tpduLen), promptTerm, "ERROR"); err != nil {
		return Outcome{ErrorCode: errCode(err)}, err
	}
	return m.finishSend(ctx, pdu+ctrlZ)
}

// QueryRegistration asks the modem for its network registration state.
func (m *Modem) QueryRegistration(ctx context.Context) (Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return RegistrationUnknown, ErrModemNotInitialized
	}
	resp, err := m.command(ctx, "AT+CREG?", "OK", "ERROR")
	if err != nil {
		return RegistrationUnknown, err
	}
	match := cregRE.FindStringSubmatch(resp)
	if match == nil {
		return RegistrationUnknown, nil
	}
	switch match[1] {
	case "1":
		return RegisteredHome, nil
	case "5":
		return RegisteredRoaming, nil
	case "2":
		return Searching, nil
	case "3":
		return Denied, nil
	case "0":
		return NotRegistered, nil
	default:
		return RegistrationUnknown, nil
	}
}

// finishSend writes the message body (already terminated with Ctrl-Z) and
// awaits the delivery acknowledgment.
func (m *Modem) finishSend(ctx context.Context, payload string) (Outcome, error) {
	resp, err := m.command(ctx, payload, "OK", "ERROR")
	if err != nil {
		return Outcome{ErrorCode: errCode(err)}, err
	}
	if ref := cmgsRE.FindString(resp); ref != "" {
		return Outcome{Success: true, ProviderMessage: ref}, nil
	}
	code := cmsRE.FindString(resp)
	if code == "" {
		code = "ERROR"
	}
	return Outcome{ErrorCode: code}, fmt.Errorf("modem rejected send: %s", code)
}

// command writes one line (or raw payload, when it already carries its own
// terminator) and reads until a terminator string appears. Context expiry
// is reported as ErrSendTimeout; the reader goroutine drains on the next
// hardware byte after an abandoned wait.
func (m *Modem) command(ctx context.Context, cmd string, terms ...string) (string, error) {
	payload := cmd
	if !strings.HasSuffix(payload, ctrlZ) {
		payload += "\r"
	}
	if _, err := m.port.Write([]byte(payload)); err != nil {
		return "", err
	}

	type result struct {
		s   string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var b strings.Builder
		buf := make([]byte, 256)
		for {
			n, err := m.port.Read(buf)
			if n > 0 {
				b.Write(buf[:n])
				s := b.String()
				for _, t := range terms {
					if strings.Contains(s, t) {
						ch <- result{s, nil}
						return
					}
				}
			}
			if err != nil {
				ch <- result{b.String(), err}
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return "", ErrSendTimeout
	case r := <-ch:
		if r.err != nil {
			return r.s, r.err
		}
		// "ERROR" is a terminator so the wait ends promptly, but it is
		// still a failed transaction.
		if strings.Contains(r.s, "ERROR") && !containsAny(r.s, "+CMGS:") {
			code := cmsRE.FindString(r.s)
			if code == "" {
				code = "ERROR"
			}
			return r.s, fmt.Errorf("modem: %s", code)
		}
		return r.s, nil
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// errCode renders an error for the Outcome.ErrorCode field.
func errCode(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
