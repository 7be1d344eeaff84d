package document

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

const saleID = "6a1d3c7e-8b2f-4d9a-9c1e-2f3a4b5c6d7e"

func TestDisposition(t *testing.T) {
	assert.Equal(t, `inline; filename=SA-000001.pdf`, Disposition("inline", "SA-000001.pdf"))
	assert.Equal(t, `attachment; filename=SA-000001.pdf`, Disposition("", "SA-000001.pdf"))
	assert.Equal(t, `attachment; filename=SA-000001.pdf`, Disposition("print", "SA-000001.pdf"))
	assert.Equal(t, `attachment; filename="Quote 1.pdf"`, Disposition("download", "Quote 1.pdf"))
}

func TestObjectKey(t *testing.T) {
	a := ObjectKey("sale", saleID)
	b := ObjectKey("sale", saleID)

	assert.True(t, strings.HasPrefix(a, "sale/"+saleID+"/"))
	assert.True(t, strings.HasSuffix(a, ".pdf"))
	assert.NotEqual(t, a, b)
}

func TestShare_WithoutStorage(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/v1/sales/{id}/pdf/share", Handlers{}.SaleShare)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sales/"+saleID+"/pdf/share", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "STORAGE_DISABLED")
}

func TestHandlers_RejectMalformedID(t *testing.T) {
	h := Handlers{}
	r := chi.NewRouter()
	r.Get("/v1/sales/{id}/pdf", h.SalePDF)
	r.Get("/v1/dispatches/{id}/documents", h.List("dispatch"))

	for _, path := range []string{"/v1/sales/nope/pdf", "/v1/dispatches/123/documents"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}
