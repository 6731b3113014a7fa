package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/wirecat/internal/capture/capturetest"
	"firestige.xyz/wirecat/internal/config"
	"firestige.xyz/wirecat/internal/session"
	"firestige.xyz/wirecat/internal/testutil"
)

type fixture struct {
	srv  *httptest.Server
	sess *session.Session
	src  *capturetest.Source
	dir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	src := capturetest.NewSource()
	dir := t.TempDir()
	sess, err := session.Open(context.Background(), session.Options{
		Capture:    config.CaptureConfig{SnapLen: 65535, PollTimeout: "5ms"},
		Reassembly: config.ReassemblyConfig{Timeout: "30s"},
		ExportDir:  dir,
		Source:     src,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(sess))
	t.Cleanup(func() {
		srv.Close()
		sess.Close()
	})
	return &fixture{srv: srv, sess: sess, src: src, dir: dir}
}

func (f *fixture) do(t *testing.T, method, path string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func (f *fixture) decode(t *testing.T, method, path string, wantStatus int, v any) {
	t.Helper()
	status, body := f.do(t, method, path)
	require.Equal(t, wantStatus, status, string(body))
	require.NoError(t, json.Unmarshal(body, v), string(body))
}

func (f *fixture) capture(t *testing.T, frames ...[]byte) {
	t.Helper()
	want := f.sess.PacketCount() + len(frames)
	f.src.Handle.Push(frames...)
	require.Eventually(t, func() bool { return f.sess.PacketCount() >= want }, 2*time.Second, time.Millisecond)
}

func TestCaptureControl(t *testing.T) {
	f := newFixture(t)

	var st stateResponse
	f.decode(t, http.MethodGet, "/api/v1/capture/state", http.StatusOK, &st)
	assert.Equal(t, "test0", st.Device)
	assert.Equal(t, "init", st.State)

	f.decode(t, http.MethodPost, "/api/v1/capture/start", http.StatusOK, &st)
	assert.Equal(t, "start", st.State)

	f.capture(t, testutil.UDPFrame("10.0.0.1", "10.0.0.2", 1, 2, nil))

	f.decode(t, http.MethodPost, "/api/v1/capture/clear", http.StatusOK, &st)
	assert.Equal(t, 0, st.Packets)
	assert.Equal(t, "start", st.State)

	f.decode(t, http.MethodPost, "/api/v1/capture/stop", http.StatusOK, &st)
	assert.Equal(t, "stop", st.State)

	status, _ := f.do(t, http.MethodGet, "/api/v1/capture/start")
	assert.Equal(t, http.StatusMethodNotAllowed, status)
}

func TestPacketsFilter(t *testing.T) {
	f := newFixture(t)
	f.sess.Start()
	f.capture(t,
		testutil.TCPFrame("10.0.0.1", "10.0.0.2", 40000, 80, nil),
		testutil.UDPFrame("10.0.0.1", "10.0.0.53", 5353, 53, nil),
	)

	var all packetsResponse
	f.decode(t, http.MethodGet, "/api/v1/packets", http.StatusOK, &all)
	assert.Equal(t, 2, all.Count)

	var tcp packetsResponse
	f.decode(t, http.MethodGet, "/api/v1/packets?filter=-p+tcp+-dport+80", http.StatusOK, &tcp)
	require.Equal(t, 1, tcp.Count)
	assert.Equal(t, "TCP", tcp.Packets[0].Protocol)
	assert.Equal(t, uint64(1), tcp.Packets[0].No)

	var bad errorResponse
	f.decode(t, http.MethodGet, "/api/v1/packets?filter=-x+foo", http.StatusBadRequest, &bad)
	assert.Contains(t, bad.Error, "syntax")

	var help map[string]string
	f.decode(t, http.MethodGet, "/api/v1/packets?filter=-h", http.StatusOK, &help)
	assert.Contains(t, help["help"], "-sport")
}

func TestFilterCheck(t *testing.T) {
	f := newFixture(t)

	var resp map[string]any
	f.decode(t, http.MethodGet, "/api/v1/filter/check?expr=-p+tcp", http.StatusOK, &resp)
	assert.Equal(t, true, resp["valid"])

	resp = nil
	f.decode(t, http.MethodGet, "/api/v1/filter/check?expr=-p", http.StatusOK, &resp)
	assert.Equal(t, false, resp["valid"])
	assert.NotEmpty(t, resp["error"])
}

func TestPacketDetail(t *testing.T) {
	f := newFixture(t)
	f.sess.Start()
	f.capture(t, testutil.UDPFrame("10.0.0.1", "10.0.0.2", 1, 2, []byte("hello")))

	var pkt packetResponse
	f.decode(t, http.MethodGet, "/api/v1/packets/1", http.StatusOK, &pkt)
	assert.Equal(t, uint64(1), pkt.No)
	assert.Contains(t, pkt.Dump, "hello")

	var notFound errorResponse
	f.decode(t, http.MethodGet, "/api/v1/packets/99", http.StatusNotFound, &notFound)
	f.decode(t, http.MethodGet, "/api/v1/packets/99/reassemble", http.StatusNotFound, &notFound)
}

func TestReassembleEndpoint(t *testing.T) {
	f := newFixture(t)
	f.sess.Start()

	payload := testutil.Pattern(3000)
	frag := func(off int, more bool) []byte {
		end := off + 1400
		if end > len(payload) {
			end = len(payload)
		}
		return testutil.IPv4Fragment("10.0.0.1", "10.0.0.2", layers.IPProtocolUDP, 7, off, more, payload[off:end])
	}

	f.capture(t,
		testutil.TCPFrame("10.0.0.1", "10.0.0.2", 1, 2, nil),
		testutil.ARPFrame("10.0.0.1", "10.0.0.2"),
		frag(0, true),
		frag(2800, false),
	)

	var conflict errorResponse
	f.decode(t, http.MethodGet, "/api/v1/packets/1/reassemble", http.StatusConflict, &conflict)
	f.decode(t, http.MethodGet, "/api/v1/packets/2/reassemble", http.StatusConflict, &conflict)

	var incomplete reassembleResponse
	f.decode(t, http.MethodGet, "/api/v1/packets/3/reassemble", http.StatusAccepted, &incomplete)
	assert.Equal(t, "incomplete", incomplete.Status)
	assert.Equal(t, 1400, incomplete.MissingBytes)

	f.capture(t, frag(1400, true))

	var done reassembleResponse
	f.decode(t, http.MethodGet, "/api/v1/packets/4/reassemble", http.StatusOK, &done)
	assert.Equal(t, "complete", done.Status)
	assert.Equal(t, 3, done.Fragments)
	assert.Equal(t, 3000, done.TotalLength)
	assert.NotEmpty(t, done.Dump)

	var groups []groupResponse
	f.decode(t, http.MethodGet, "/api/v1/reassembly/groups", http.StatusOK, &groups)
	require.Len(t, groups, 1)
	assert.True(t, groups[0].Complete)
}

func TestExportEndpoints(t *testing.T) {
	f := newFixture(t)
	f.sess.Start()
	f.capture(t, testutil.UDPFrame("10.0.0.1", "10.0.0.2", 1, 2, nil))

	status, body := f.do(t, http.MethodGet, "/api/v1/export")
	require.Equal(t, http.StatusOK, status)
	assert.True(t, strings.HasPrefix(string(body), "Time: "))
	assert.Contains(t, string(body), "NO: 1\n")

	var saved map[string]string
	f.decode(t, http.MethodPost, "/api/v1/export/save", http.StatusOK, &saved)
	assert.True(t, strings.HasSuffix(saved["path"], ".log"))
	assert.Equal(t, f.dir, filepath.Dir(saved["path"]))
	assert.Equal(t, "start", f.sess.State().String())
}

func TestSaveStaysInExportDir(t *testing.T) {
	f := newFixture(t)
	f.capture(t, testutil.UDPFrame("10.0.0.1", "10.0.0.2", 1, 2, nil))

	outside := filepath.Join(t.TempDir(), "out.log")
	for _, name := range []string{outside, "../out.log", "a/../../out.log"} {
		status, body := f.do(t, http.MethodPost, "/api/v1/export/save?path="+url.QueryEscape(name))
		assert.Equal(t, http.StatusBadRequest, status, name)
		assert.Contains(t, string(body), "outside export directory", name)
	}
	_, err := os.Stat(outside)
	assert.True(t, os.IsNotExist(err), "nothing written outside the export directory")

	var saved map[string]string
	f.decode(t, http.MethodPost, "/api/v1/export/save?path=named.log", http.StatusOK, &saved)
	assert.Equal(t, filepath.Join(f.dir, "named.log"), saved["path"])
	data, err := os.ReadFile(saved["path"])
	require.NoError(t, err)
	assert.Contains(t, string(data), "NO: 1\n")
}
