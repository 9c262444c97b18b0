package hilink

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/hilinkd/hilinkd/pkg/crypto"
)

// fakeDevice emulates the parts of the HiLink web API the client uses.
type fakeDevice struct {
	mu sync.Mutex

	generation    Generation
	loginRequired bool
	classify      string
	username      string
	password      string
	alreadyLogged bool

	salt        []byte
	iterations  int
	clientNonce string

	loggedIn  bool
	seq       int
	paths     []string
	bodies    map[string]string
	responses map[string]string
	errCodes  map[string]int
	drop      map[string]bool
}

func newFakeDevice(gen Generation) *fakeDevice {
	return &fakeDevice{
		generation:    gen,
		loginRequired: true,
		classify:      "hilink",
		username:      "admin",
		password:      "secret",
		salt:          []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02},
		iterations:    100,
		bodies:        make(map[string]string),
		responses:     defaultFakeResponses(),
		errCodes:      make(map[string]int),
		drop:          make(map[string]bool),
	}
}

func defaultFakeResponses() map[string]string {
	return map[string]string{
		pathDeviceInformation: `<response><DeviceName>E3372h-320</DeviceName><Imei>861234567890123</Imei><Iccid>89490200001234567890</Iccid></response>`,
		pathMonitoringStatus: `<response><ConnectionStatus>901</ConnectionStatus><CurrentNetworkType>LTE</CurrentNetworkType>` +
			`<WanIPAddress>10.64.1.2</WanIPAddress><SimStatus>1</SimStatus><CurrentConnectTime>120</CurrentConnectTime><RoamingStatus>0</RoamingStatus></response>`,
		pathCurrentPLMN: `<response><State>0</State><FullName>Telekom.de</FullName><ShortName>Telekom</ShortName></response>`,
		pathSignal: `<response><rssi>24</rssi><rsrp>-95dBm</rsrp><rsrq>-10.0dB</rsrq><sinr>12dB</sinr>` +
			`<cell_id>12345</cell_id><band>3</band><arfcn>1300</arfcn></response>`,
		pathTraffic: `<response><CurrentConnectTime>60</CurrentConnectTime><CurrentUpload>100</CurrentUpload><CurrentDownload>200</CurrentDownload>` +
			`<TotalUpload>1000</TotalUpload><TotalDownload>2000</TotalDownload><TotalConnectTime>3600</TotalConnectTime></response>`,
		pathMonthStatistics: `<response><CurrentMonthDownload>700</CurrentMonthDownload><CurrentMonthUpload>300</CurrentMonthUpload></response>`,
		pathNetMode:         `<response><NetworkMode>00</NetworkMode><NetworkBand>100200000CC80380</NetworkBand><LTEBand>800C5</LTEBand></response>`,
		pathDialupConnection: `<response><RoamAutoConnectEnable>0</RoamAutoConnectEnable><MaxIdelTime>600</MaxIdelTime><ConnectMode>0</ConnectMode>` +
			`<MTU>1450</MTU><auto_dial_switch>1</auto_dial_switch><pdp_always_on>0</pdp_always_on></response>`,
	}
}

func (f *fakeDevice) start(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeDevice) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.paths)
}

func (f *fakeDevice) called(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.paths {
		if p == path {
			return true
		}
	}
	return false
}

func (f *fakeDevice) body(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[path]
}

func (f *fakeDevice) set(fn func(f *fakeDevice)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeDevice) authorized() bool {
	return !f.loginRequired || f.loggedIn || f.alreadyLogged
}

func (f *fakeDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	f.paths = append(f.paths, path)
	raw, _ := io.ReadAll(r.Body)
	body := string(raw)
	if r.Method == http.MethodPost {
		f.bodies[path] = body
	}

	if f.drop[path] {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
			}
		}
		return
	}

	f.seq++
	w.Header().Set(tokenHeader, fmt.Sprintf("tok%04d#suffix", f.seq))
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "sess-1", Path: "/"})

	if code, ok := f.errCodes[path]; ok {
		writeFakeError(w, code)
		return
	}

	switch path {
	case pathRoot:
		_, _ = w.Write([]byte("<html><body>HiLink</body></html>"))
	case pathToken:
		if f.generation == Gen17 {
			writeFakeError(w, 100002)
			return
		}
		writeFakeXML(w, "<response><token>"+strings.Repeat("0", 32)+"ABCDEFGHIJKLMNOPQRSTUVWXYZ012345</token></response>")
	case pathHomePage:
		if f.generation != Gen17 {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`<!DOCTYPE html><html><head><meta charset="utf-8">` +
			`<meta name="csrf_token" content="csrf-first"><meta name="csrf_token" content="csrf-second"></head></html>`))
	case pathBasicInformation:
		version := "10.0.5.1(H192SP1C983)"
		switch f.generation {
		case Gen17:
			version = "17.100.13.01.03"
		case Gen21:
			version = "21.180.00.00.00"
		}
		writeFakeXML(w, "<response><classify>"+f.classify+"</classify><WebUIVersion>"+version+"</WebUIVersion></response>")
	case pathHiLinkLogin:
		writeFakeXML(w, "<response><hilink_login>"+flag(f.loginRequired)+"</hilink_login></response>")
	case pathStateLogin:
		state := "-1"
		if f.loggedIn || f.alreadyLogged {
			state = "0"
		}
		writeFakeXML(w, "<response><State>"+state+"</State><Username></Username><password_type>4</password_type></response>")
	case pathLogin:
		expected := crypto.HiLinkPasswordHash(f.username, f.password, r.Header.Get(tokenHeader))
		if fieldOf(body, "Username") != f.username || fieldOf(body, "Password") != expected {
			writeFakeError(w, 108006)
			return
		}
		f.loggedIn = true
		writeFakeXML(w, "<response>OK</response>")
	case pathChallengeLogin:
		f.clientNonce = fieldOf(body, "firstnonce")
		writeFakeXML(w, "<response><salt>"+hex.EncodeToString(f.salt)+"</salt><servernonce>"+f.clientNonce+"srv"+
			"</servernonce><modeselected>1</modeselected><iterations>"+strconv.Itoa(f.iterations)+"</iterations></response>")
	case pathAuthLogin:
		serverNonce := f.clientNonce + "srv"
		expected := hex.EncodeToString(crypto.ScramClientProof(f.password, f.salt, f.iterations, f.clientNonce, serverNonce))
		if fieldOf(body, "clientproof") != expected || fieldOf(body, "finalnonce") != serverNonce {
			writeFakeError(w, 108006)
			return
		}
		f.loggedIn = true
		writeFakeXML(w, "<response><serversignature>00ff</serversignature><rsan>00</rsan><rsae>010001</rsae></response>")
	default:
		if !f.authorized() {
			writeFakeError(w, 100003)
			return
		}
		if r.Method == http.MethodPost {
			writeFakeXML(w, "<response>OK</response>")
			return
		}
		if resp, ok := f.responses[path]; ok {
			writeFakeXML(w, resp)
			return
		}
		http.NotFound(w, r)
	}
}

func writeFakeXML(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "text/xml")
	_, _ = io.WriteString(w, xmlHeader+"\n"+doc)
}

func writeFakeError(w http.ResponseWriter, code int) {
	writeFakeXML(w, "<error><code>"+strconv.Itoa(code)+"</code><message></message></error>")
}

func fieldOf(body, name string) string {
	open, end := "<"+name+">", "</"+name+">"
	i := strings.Index(body, open)
	if i < 0 {
		return ""
	}
	rest := body[i+len(open):]
	j := strings.Index(rest, end)
	if j < 0 {
		return ""
	}
	return rest[:j]
}
