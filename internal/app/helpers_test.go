package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/stacklok/sheetsync-server/internal/api/ws"
	"github.com/stacklok/sheetsync-server/internal/app"
	"github.com/stacklok/sheetsync-server/internal/config"
)

const testSheetID = "1BxiMVs0XRA5nFMdKvBdBZjgmUUqptlbs74OgvE2upms"

// fakeSheet serves the Sheets API values endpoint from an in-memory grid
type fakeSheet struct {
	*httptest.Server

	mu     sync.Mutex
	values [][]any
}

func newFakeSheet(values [][]any) *fakeSheet {
	f := &fakeSheet{values: values}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	return f
}

func (f *fakeSheet) set(values [][]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = values
}

func (f *fakeSheet) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !strings.Contains(r.URL.Path, "/spreadsheets/"+testSheetID+"/values/") {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found."}}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"range":          "Sheet1!A1:Z",
		"majorDimension": "ROWS",
		"values":         f.values,
	})
}

// testServer is a running app plus the handles the tests drive it with
type testServer struct {
	app     *app.SheetSyncApp
	clock   *clocktesting.FakeClock
	baseURL string
	done    chan error
}

func startApp(cfg *config.Config, opts ...app.SheetSyncAppOptions) *testServer {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())

	fc := clocktesting.NewFakeClock(time.Now())
	opts = append([]app.SheetSyncAppOptions{
		app.WithConfig(cfg),
		app.WithListener(listener),
		app.WithClock(fc),
	}, opts...)

	a, err := app.NewSheetSyncApp(ctx, opts...)
	Expect(err).NotTo(HaveOccurred())

	ts := &testServer{
		app:     a,
		clock:   fc,
		baseURL: "http://" + listener.Addr().String(),
		done:    make(chan error, 1),
	}
	go func() { ts.done <- a.Start() }()

	Eventually(func() int {
		resp, err := http.Get(ts.baseURL + "/health")
		if err != nil {
			return 0
		}
		_ = resp.Body.Close()
		return resp.StatusCode
	}, 5*time.Second, 20*time.Millisecond).Should(Equal(http.StatusOK))
	return ts
}

func (ts *testServer) stop() {
	Expect(ts.app.Stop(5 * time.Second)).To(Succeed())
	Eventually(ts.done, 5*time.Second).Should(Receive(BeNil()))
}

// do sends a request and returns the status and the parsed body
func (ts *testServer) do(method, path string, body any) (int, gjson.Result) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.baseURL+path, reader)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp.StatusCode, gjson.ParseBytes(data)
}

func (ts *testServer) dial() *websocket.Conn {
	dialCtx, dialCancel := context.WithTimeout(ctx, 5*time.Second)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, "ws"+strings.TrimPrefix(ts.baseURL, "http")+"/ws", nil)
	Expect(err).NotTo(HaveOccurred())
	return conn
}

func send(conn *websocket.Conn, typ, tableID string) {
	wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
	defer wcancel()
	Expect(wsjson.Write(wctx, conn, ws.ClientMessage{Type: typ, TableID: tableID})).To(Succeed())
}

func receive(conn *websocket.Conn) gjson.Result {
	rctx, rcancel := context.WithTimeout(ctx, 5*time.Second)
	defer rcancel()
	_, data, err := conn.Read(rctx)
	Expect(err).NotTo(HaveOccurred())
	return gjson.ParseBytes(data)
}
