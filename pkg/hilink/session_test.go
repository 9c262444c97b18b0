package hilink

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTokenRotation(t *testing.T) {
	var (
		mu       sync.Mutex
		seen     []string
		cookies  []string
		sequence int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r.Header.Get(tokenHeader))
		if c, err := r.Cookie(sessionCookie); err == nil {
			cookies = append(cookies, c.Value)
		} else {
			cookies = append(cookies, "")
		}
		sequence++
		if sequence != 3 {
			w.Header().Set(tokenHeader, fmt.Sprintf("t%d#ignored", sequence))
		}
		if sequence == 1 {
			http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "abc"})
		}
		writeFakeXML(w, "<response><n>1</n></response>")
	}))
	defer srv.Close()

	s := newSession(srv.URL, Credentials{}, srv.Client(), zerolog.Nop(), newClientNonce)
	for i := 0; i < 4; i++ {
		_, err := s.call(context.Background(), http.MethodGet, "/api/x", nil)
		require.NoError(t, err)
	}

	// the third response carried no token, so the second one stays current
	assert.Equal(t, []string{"", "t1", "t2", "t2"}, seen)
	assert.Equal(t, []string{"", "abc", "abc", "abc"}, cookies)
	assert.Equal(t, "t4", s.Token())
	assert.Equal(t, "abc", s.SessionID())
}

func TestSessionConcurrentRequestsSerialize(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		mu.Unlock()

		writeFakeXML(w, "<response>OK</response>")

		mu.Lock()
		inFlight--
		mu.Unlock()
	}))
	defer srv.Close()

	s := newSession(srv.URL, Credentials{}, srv.Client(), zerolog.Nop(), newClientNonce)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.call(context.Background(), http.MethodGet, "/api/x", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
}

func TestSessionNon2xxIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newSession(srv.URL, Credentials{}, srv.Client(), zerolog.Nop(), newClientNonce)
	_, err := s.call(context.Background(), http.MethodGet, "/api/x", nil)
	assert.True(t, IsTransport(err))
}

func TestNegotiateIgnoresRootStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pathRoot:
			http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "root-cookie"})
			http.NotFound(w, r)
		case pathToken:
			writeFakeXML(w, "<response><token>ABCDEFGHIJKLMNOPQRSTUVWXYZ012345</token></response>")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := newSession(srv.URL, Credentials{}, srv.Client(), zerolog.Nop(), newClientNonce)
	require.NoError(t, s.negotiate(context.Background()))

	assert.Equal(t, "root-cookie", s.SessionID())
	assert.Equal(t, "ABCDEFGHIJKLMNOPQRSTUVWXYZ012345", s.Token())
	assert.Equal(t, Gen10, s.Generation())
}

func TestNegotiateFailsWhenRootUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	s := newSession(url, Credentials{}, http.DefaultClient, zerolog.Nop(), newClientNonce)
	err := s.negotiate(context.Background())
	assert.True(t, IsTransport(err))
}

func TestCSRFToken(t *testing.T) {
	page := []byte(`<html><head>
<meta http-equiv="X-UA-Compatible" content="IE=edge">
<meta name="csrf_token" content="first">
<meta name="csrf_token" content="second"/>
</head><body></body></html>`)
	assert.Equal(t, "first", csrfToken(page))
	assert.Equal(t, "", csrfToken([]byte("<html><head></head></html>")))
}

func TestNegotiateWithoutTokenSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pathRoot:
			_, _ = w.Write([]byte("<html></html>"))
		case pathToken:
			writeFakeXML(w, "<response></response>")
		case pathHomePage:
			_, _ = w.Write([]byte("<html><head></head></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := newSession(srv.URL, Credentials{}, srv.Client(), zerolog.Nop(), newClientNonce)
	err := s.negotiate(context.Background())

	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, GenerationUnknown, s.Generation())
}

func TestLastChars(t *testing.T) {
	assert.Equal(t, "cdef", lastChars("abcdef", 4))
	assert.Equal(t, "ab", lastChars("ab", 4))
}
