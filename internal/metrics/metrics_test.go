package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()

	m.RequestCreated("sign")
	m.RequestCreated("sign")
	m.RequestFinished("sign", "resolved")
	m.Submitted("westend")
	m.Built("westend", "transfer.balance", "substrate", "ok", 120*time.Millisecond)

	if got := testutil.ToFloat64(m.PendingRequests.WithLabelValues("sign")); got != 1 {
		t.Errorf("pending = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RequestsFinished.WithLabelValues("sign", "resolved")); got != 1 {
		t.Errorf("finished = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TxSubmitted.WithLabelValues("westend")); got != 1 {
		t.Errorf("submitted = %v, want 1", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RequestCreated("sign")
	m.Finished("ethereum", "success")
	m.SubscriptionOpened()
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.RPCCall("tx_build", "ok")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `klingsign_rpc_calls_total{method="tx_build",outcome="ok"} 1`) {
		t.Errorf("metric missing from output:\n%s", body)
	}
}
