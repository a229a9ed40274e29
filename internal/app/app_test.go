package app_test

import (
	"context"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/sheetsync-server/internal/app"
	"github.com/stacklok/sheetsync-server/internal/config"
	"github.com/stacklok/sheetsync-server/internal/status"
	"github.com/stacklok/sheetsync-server/internal/store/memory"
	"github.com/stacklok/sheetsync-server/internal/table"
)

const testInterval = 30 * time.Second

func testConfig(sheet *fakeSheet) *config.Config {
	return &config.Config{
		Sync: config.SyncConfig{Interval: testInterval.String()},
		Source: config.SourceConfig{
			APIKey:   "test-key",
			Endpoint: sheet.URL + "/",
		},
	}
}

var _ = Describe("SheetSync server", Label("app"), func() {
	var (
		sheet *fakeSheet
		ts    *testServer
	)

	sheetURL := "https://docs.google.com/spreadsheets/d/" + testSheetID + "/edit#gid=0"

	BeforeEach(func() {
		sheet = newFakeSheet([][]any{
			{"Name", "JoinDate"},
			{"Alice", "2021-03-04"},
			{"Bob"},
		})
	})

	AfterEach(func() {
		if ts != nil {
			ts.stop()
			ts = nil
		}
		sheet.Close()
	})

	Context("table lifecycle", func() {
		BeforeEach(func() {
			ts = startApp(testConfig(sheet))
		})

		It("serves probes", func() {
			code, body := ts.do(http.MethodGet, "/readiness", nil)
			Expect(code).To(Equal(http.StatusOK))
			Expect(body.Get("status").String()).To(Equal("ready"))

			code, body = ts.do(http.MethodGet, "/version", nil)
			Expect(code).To(Equal(http.StatusOK))
			Expect(body.Get("go_version").String()).NotTo(BeEmpty())
		})

		It("creates a table, pushes snapshots and tears down on delete", func() {
			By("creating the table")
			code, body := ts.do(http.MethodPost, "/api/tables", map[string]any{
				"name":     "Customers",
				"sheetUrl": sheetURL,
				"columns": []map[string]string{
					{"name": "Name", "type": "text"},
					{"name": "JoinDate", "type": "date"},
				},
			})
			Expect(code).To(Equal(http.StatusCreated), body.Raw)
			id := body.Get("id").String()
			Expect(id).NotTo(BeEmpty())
			Expect(body.Get("owner").String()).To(Equal(config.DefaultAnonymousUser))
			Expect(ts.app.Components().Scheduler.Running(id)).To(BeTrue())

			By("reading the data synchronously")
			code, body = ts.do(http.MethodGet, "/api/tables/"+id+"/data", nil)
			Expect(code).To(Equal(http.StatusOK), body.Raw)
			Expect(body.Get("rows.#").Int()).To(Equal(int64(2)))
			Expect(body.Get("rows.0.JoinDate").String()).To(Equal("2021-03-04"))
			Expect(body.Get("rows.1.JoinDate").String()).To(Equal(""))

			By("joining over the socket")
			conn := ts.dial()
			defer func() { _ = conn.CloseNow() }()
			send(conn, "joinTable", id)
			Expect(receive(conn).Get("type").String()).To(Equal("joined"))

			By("ticking the scheduler")
			sheet.set([][]any{{"Name", "JoinDate"}, {"Carol", "5/6/2022"}})
			ts.clock.Step(testInterval)
			push := receive(conn)
			Expect(push.Get("type").String()).To(Equal("tableDataUpdated"))
			Expect(push.Get("tableId").String()).To(Equal(id))
			Expect(push.Get("rows.0.Name").String()).To(Equal("Carol"))
			Expect(push.Get("rows.0.JoinDate").String()).To(Equal("2022-05-06"))
			firstSeq := push.Get("seq").Uint()

			By("adding a dashboard column")
			code, body = ts.do(http.MethodPost, "/api/tables/"+id+"/columns", map[string]string{"name": "Notes"})
			Expect(code).To(Equal(http.StatusOK), body.Raw)
			Expect(body.Get("columns.#").Int()).To(Equal(int64(3)))
			Expect(body.Get("columns.2.origin").String()).To(Equal(string(table.OriginDashboard)))

			push = receive(conn)
			Expect(push.Get("seq").Uint()).To(BeNumerically(">", firstSeq))
			Expect(push.Get("rows.0.Notes").Exists()).To(BeTrue())

			By("rejecting a clashing column")
			code, _ = ts.do(http.MethodPost, "/api/tables/"+id+"/columns", map[string]string{"name": "JoinDate"})
			Expect(code).To(Equal(http.StatusConflict))

			By("deleting the table")
			code, _ = ts.do(http.MethodDelete, "/api/tables/"+id, nil)
			Expect(code).To(Equal(http.StatusNoContent))
			Expect(ts.app.Components().Scheduler.Running(id)).To(BeFalse())
			Expect(ts.app.Components().Registry.Members(id)).To(Equal(0))

			code, _ = ts.do(http.MethodGet, "/api/tables/"+id, nil)
			Expect(code).To(Equal(http.StatusNotFound))
		})

		It("rejects invalid requests", func() {
			code, body := ts.do(http.MethodPost, "/api/tables", map[string]any{
				"name":     "Bad",
				"sheetUrl": "not a sheet",
				"columns":  []map[string]string{{"name": "A"}},
			})
			Expect(code).To(Equal(http.StatusBadRequest))
			Expect(body.Get("error").String()).To(ContainSubstring("invalid source locator"))

			code, _ = ts.do(http.MethodPost, "/api/tables", map[string]any{"name": "NoColumns"})
			Expect(code).To(Equal(http.StatusBadRequest))

			code, _ = ts.do(http.MethodGet, "/api/tables/does-not-exist", nil)
			Expect(code).To(Equal(http.StatusNotFound))
		})

		It("halts polling when the sheet disappears", func() {
			missing := "https://docs.google.com/spreadsheets/d/" + "0000000000000000000000000000" + "/edit"
			code, body := ts.do(http.MethodPost, "/api/tables", map[string]any{
				"name":     "Gone",
				"sheetUrl": missing,
				"columns":  []map[string]string{{"name": "A"}},
			})
			Expect(code).To(Equal(http.StatusCreated))
			id := body.Get("id").String()

			ts.clock.Step(testInterval)
			Eventually(func() string {
				_, body := ts.do(http.MethodGet, "/api/tables/"+id, nil)
				return body.Get("syncStatus.reason").String()
			}, 5*time.Second, 20*time.Millisecond).Should(Equal(string(status.ReasonInvalidLocator)))
			Eventually(func() bool {
				return ts.app.Components().Scheduler.Running(id)
			}, 5*time.Second, 20*time.Millisecond).Should(BeFalse())
		})
	})

	Context("startup", func() {
		It("resumes every table that is not halted", func() {
			st := memory.New()
			healthy := &table.Table{
				Owner:         config.DefaultAnonymousUser,
				Name:          "healthy",
				SourceLocator: sheetURL,
				SourceColumns: []table.Column{{Name: "Name", Kind: table.KindText, Origin: table.OriginSource}},
			}
			halted := &table.Table{
				Owner:         config.DefaultAnonymousUser,
				Name:          "halted",
				SourceLocator: sheetURL,
				SourceColumns: []table.Column{{Name: "Name", Kind: table.KindText, Origin: table.OriginSource}},
				SyncStatus: &status.SyncStatus{
					Phase:     status.SyncPhaseFailed,
					Reason:    status.ReasonSchemaMismatch,
					Permanent: true,
				},
			}
			Expect(st.CreateTable(context.Background(), healthy)).To(Succeed())
			Expect(st.CreateTable(context.Background(), halted)).To(Succeed())

			ts = startApp(testConfig(sheet), app.WithStore(st))

			sched := ts.app.Components().Scheduler
			Eventually(func() bool { return sched.Running(healthy.ID) }, 5*time.Second).Should(BeTrue())
			Consistently(func() bool { return sched.Running(halted.ID) }, 200*time.Millisecond).Should(BeFalse())
		})

		It("does not resume when disabled", func() {
			st := memory.New()
			t := &table.Table{
				Owner:         config.DefaultAnonymousUser,
				Name:          "idle",
				SourceLocator: sheetURL,
				SourceColumns: []table.Column{{Name: "Name", Kind: table.KindText, Origin: table.OriginSource}},
			}
			Expect(st.CreateTable(context.Background(), t)).To(Succeed())

			cfg := testConfig(sheet)
			off := false
			cfg.Sync.StartupResume = &off
			ts = startApp(cfg, app.WithStore(st))

			Consistently(func() bool {
				return ts.app.Components().Scheduler.Running(t.ID)
			}, 200*time.Millisecond).Should(BeFalse())
		})
	})
})
