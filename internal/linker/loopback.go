package linker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"unibox/internal/logger"
	"unibox/internal/model"
)

// LoopbackSurface is the non-browser authorization surface: a loopback
// HTTP listener that receives the provider redirect and posts the code
// back on the message channel. The user's default browser is opened at
// the authorization URL.
type LoopbackSurface struct {
	log      *logger.Logger
	server   *http.Server
	listener net.Listener
	messages chan Message
	origin   string

	mu     sync.Mutex
	closed bool
}

// NewLoopbackSurface binds a loopback listener. The bound address
// becomes the surface origin and must match the redirect URI registered
// with the provider.
func NewLoopbackSurface(addr string, log *logger.Logger) (*LoopbackSurface, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind loopback listener: %w", err)
	}
	s := &LoopbackSurface{
		log:      log,
		listener: listener,
		messages: make(chan Message, 1),
		origin:   "http://" + listener.Addr().String(),
	}
	return s, nil
}

// Origin returns the address the redirect URI must point at.
func (s *LoopbackSurface) Origin() string {
	return s.origin
}

func (s *LoopbackSurface) Open(ctx context.Context, authURL string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", s.handleCallback)
	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("loopback surface serve error: %v", err)
		}
	}()

	if err := openBrowser(authURL); err != nil {
		s.Close()
		return err
	}
	return nil
}

func (s *LoopbackSurface) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	msg := Message{Origin: s.origin}
	if errCode := q.Get("error"); errCode != "" {
		msg.Type = MessageError
		msg.Err = errCode
		fmt.Fprint(w, "Authorization failed. You can close this window.")
	} else {
		msg.Type = MessageSuccess
		msg.Code = q.Get("code")
		fmt.Fprint(w, "Account connected. You can close this window.")
	}
	select {
	case s.messages <- msg:
	default:
	}
}

func (s *LoopbackSurface) Messages() <-chan Message {
	return s.messages
}

func (s *LoopbackSurface) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *LoopbackSurface) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
	}
}

// NewLoopbackFactory returns a Surface factory that binds a fresh
// loopback listener per link attempt.
func NewLoopbackFactory(addr string, log *logger.Logger) func(model.Provider) Surface {
	return func(model.Provider) Surface {
		s, err := NewLoopbackSurface(addr, log)
		if err != nil {
			return &failedSurface{err: err}
		}
		return s
	}
}

// failedSurface is returned when the listener could not bind; its Open
// always fails so the caller sees ErrPopupBlocked.
type failedSurface struct {
	err error
}

func (f *failedSurface) Open(context.Context, string) error { return f.err }
func (f *failedSurface) Messages() <-chan Message           { return nil }
func (f *failedSurface) Closed() bool                       { return true }
func (f *failedSurface) Close()                             {}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
