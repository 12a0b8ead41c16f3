package drugdb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/drfirst/medscan/internal/domain/medication"
)

const metforminProduct = `{"results":[{
	"product_ndc":"0093-7214",
	"generic_name":"METFORMIN HYDROCHLORIDE",
	"brand_name":"Metformin Hydrochloride",
	"labeler_name":"Teva Pharmaceuticals USA, Inc.",
	"dosage_form":"TABLET, FILM COATED",
	"active_ingredients":[{"name":"METFORMIN HYDROCHLORIDE","strength":"500 mg/1"}],
	"packaging":[{"package_ndc":"0093-7214-01"}],
	"openfda":{"rxcui":["861007"],"pharm_class_epc":["Biguanide [EPC]"]}
}]}`

func TestOpenFDALookupTriesCandidates(t *testing.T) {
	var searches []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		search := r.URL.Query().Get("search")
		searches = append(searches, search)
		if !strings.Contains(search, `"00937-214-01"`) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"No matches found!"}}`))
			return
		}
		_, _ = w.Write([]byte(metforminProduct))
	}))
	defer srv.Close()

	c := NewOpenFDA(srv.URL, "", nil)
	info, err := c.LookupByCode(context.Background(), "0093721401")
	if err != nil {
		t.Fatalf("LookupByCode: %v", err)
	}
	if info == nil {
		t.Fatalf("no match after %v", searches)
	}
	want := medication.Info{
		Name:         "Metformin Hydrochloride",
		Strength:     "500mg",
		DosageForm:   "tablet",
		NDC:          "00937-214-01",
		Manufacturer: "Teva Pharmaceuticals USA, Inc.",
		DrugClass:    "Biguanide",
		RxCUI:        "861007",
	}
	if *info != want {
		t.Errorf("got %+v\nwant %+v", *info, want)
	}
	if len(searches) != 2 {
		t.Errorf("searches = %v", searches)
	}
}

func TestOpenFDALookupNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	info, err := NewOpenFDA(srv.URL, "", nil).LookupByCode(context.Background(), "0093-7214-01")
	if err != nil || info != nil {
		t.Errorf("got %+v, %v", info, err)
	}
}

func TestOpenFDAServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewOpenFDA(srv.URL, "", nil).SearchByName(context.Background(), "metformin"); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenFDASearchDedupes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query().Get("search"); q != `generic_name:"metformin hcl"+brand_name:"metformin hcl"` {
			t.Errorf("search = %q", q)
		}
		body := strings.TrimSuffix(strings.TrimPrefix(metforminProduct, `{"results":[`), `]}`)
		_, _ = w.Write([]byte(`{"results":[` + body + "," + body + `]}`))
	}))
	defer srv.Close()

	list, err := NewOpenFDA(srv.URL, "", nil).SearchByName(context.Background(), `  Metformin   "HCL" `)
	if err != nil {
		t.Fatalf("SearchByName: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d results", len(list))
	}
}

func TestStaticConditions(t *testing.T) {
	s := NewStaticConditions(nil)
	got, _ := s.Suggest(context.Background(), medication.Record{Name: medication.Some("Metformin HCL")})
	if len(got) == 0 || got[0].Condition != "Type 2 Diabetes" {
		t.Fatalf("got %+v", got)
	}
	got[0].Condition = "changed"
	again, _ := s.Suggest(context.Background(), medication.Record{Name: medication.Some("METFORMIN")})
	if again[0].Condition != "Type 2 Diabetes" {
		t.Error("caller mutation leaked into the table")
	}
	none, _ := s.Suggest(context.Background(), medication.Record{Name: medication.Some("Unknownium")})
	if none != nil {
		t.Errorf("got %+v", none)
	}
}
