package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveProvider(t *testing.T) {
	before := testutil.ToFloat64(ProviderRequests.WithLabelValues("certs", "200"))
	ObserveProvider("certs", 200, 10*time.Millisecond)
	if got := testutil.ToFloat64(ProviderRequests.WithLabelValues("certs", "200")); got != before+1 {
		t.Fatalf("want %v, got %v", before+1, got)
	}

	beforeErr := testutil.ToFloat64(ProviderRequests.WithLabelValues("certs", "error"))
	ObserveProvider("certs", 0, time.Millisecond)
	if got := testutil.ToFloat64(ProviderRequests.WithLabelValues("certs", "error")); got != beforeErr+1 {
		t.Fatalf("transport failures should be labelled error, got %v", got)
	}
}

func TestRegisterIsRepeatable(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}
}
