package session

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

// Disposition says how the client should react to a server-side close
type Disposition int

const (
	// Transient failures may reconnect automatically
	Transient Disposition = iota
	// RateLimited closes are surfaced; back off before reconnecting
	RateLimited
	// BadCredentials must never auto-reconnect
	BadCredentials
	// OtherLocation means the account logged on elsewhere
	OtherLocation
	// Forced is a close with no error code (server kicked us)
	Forced
)

func (d Disposition) String() string {
	switch d {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case BadCredentials:
		return "bad_credentials"
	case OtherLocation:
		return "other_location"
	case Forced:
		return "forced"
	}
	return "unknown"
}

// Reconnect reports whether an automatic reconnect is allowed
func (d Disposition) Reconnect() bool {
	return d == Transient || d == Forced || d == RateLimited
}

var (
	ErrNoRedirect    = errors.New("logon reply carries no server or cookie")
	ErrBadRedirect   = errors.New("malformed redirect address")
	ErrNotConnected  = errors.New("session not connected")
	ErrQueueFull     = errors.New("pending action queue full")
	ErrBadTransition = errors.New("illegal session transition")
)

// CloseError is a server close or logon reply carrying an error code
type CloseError struct {
	Code        uint16
	DualLogin   uint16
	Disposition Disposition
}

func (e *CloseError) Error() string {
	switch e.Disposition {
	case RateLimited:
		return fmt.Sprintf("rate limit exceeded (0x%02x)", e.Code)
	case BadCredentials:
		return fmt.Sprintf("invalid account and password combination (0x%02x)", e.Code)
	case OtherLocation:
		return "account is used from another location"
	case Forced:
		return "server closed the session"
	}
	if e.Code == 0 && e.DualLogin != 0 {
		return fmt.Sprintf("unknown runtime error from server (0x%02x)", e.DualLogin)
	}
	return fmt.Sprintf("service temporarily unavailable (0x%02x)", e.Code)
}

// Classify maps a close error code to its disposition. Unknown codes are
// transient.
func Classify(code uint16) Disposition {
	switch code {
	case 0x18, 0x1d:
		return RateLimited
	case 0x04, 0x05:
		return BadCredentials
	}
	return Transient
}

// KnownCode reports whether code is one the server documents
func KnownCode(code uint16) bool {
	switch code {
	case 0x04, 0x05, 0x0c, 0x0d, 0x12, 0x13, 0x14, 0x15, 0x18, 0x1a, 0x1d, 0x1f:
		return true
	}
	return false
}

// Redirect is a logon reply handing the client to a service host
type Redirect struct {
	Host   string
	Port   int
	Cookie []byte
}

// Address returns host:port
func (r *Redirect) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// ParseClose reads a close-channel payload or logon reply TLV block. It
// returns the redirect on success, or a *CloseError when the server reports
// a failure. An empty block is a forced logoff.
func ParseClose(tlvs *protocol.TLVBlock) (*Redirect, error) {
	if tlvs.Len() == 0 {
		return nil, &CloseError{Disposition: Forced}
	}

	if code, ok := tlvs.Uint16(protocol.CloseTLVErrorCode); ok && code != 0 {
		return nil, &CloseError{Code: code, Disposition: Classify(code)}
	}

	if dual, ok := tlvs.Uint16(protocol.CloseTLVDualLogin); ok && dual != 0 {
		d := Transient
		if dual == 0x0001 {
			d = OtherLocation
		}
		return nil, &CloseError{DualLogin: dual, Disposition: d}
	}

	server, ok := tlvs.String(protocol.CloseTLVServer)
	cookie, hasCookie := tlvs.Get(protocol.CloseTLVCookie)
	if !ok || !hasCookie || len(cookie) == 0 {
		return nil, ErrNoRedirect
	}
	return parseRedirect(server, cookie)
}

func parseRedirect(server string, cookie []byte) (*Redirect, error) {
	host, port := server, protocol.DefaultServerPort
	if h, p, err := net.SplitHostPort(server); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 0xffff {
			return nil, fmt.Errorf("%w: %q", ErrBadRedirect, server)
		}
		host, port = h, n
	}
	if host == "" {
		return nil, fmt.Errorf("%w: %q", ErrBadRedirect, server)
	}
	return &Redirect{Host: host, Port: port, Cookie: append([]byte(nil), cookie...)}, nil
}

// AsCloseError unwraps err to a *CloseError
func AsCloseError(err error) (*CloseError, bool) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
