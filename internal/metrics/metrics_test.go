package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNilRegistryIsNoop(t *testing.T) {
	var m *Registry
	m.IncConnect("ok")
	m.IncRead("tokenIds", "ok")
	m.IncTx("mint", "confirmed")
	m.SetInFlight(true)
	m.SetMinted(3)
	m.SetPresaleEnded(true)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.IncTx("mint", "confirmed")
	m.SetMinted(150)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `citanft_transactions_total{operation="mint",result="confirmed"} 1`) {
		t.Fatalf("missing transaction counter in:\n%s", body)
	}
	if !strings.Contains(body, "citanft_minted_count 150") {
		t.Fatalf("missing minted gauge in:\n%s", body)
	}
}
