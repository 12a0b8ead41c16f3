package drugdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/medscan/internal/domain/medication"
)

// DefaultOpenFDABaseURL is the public openFDA API
const DefaultOpenFDABaseURL = "https://api.fda.gov"

// SearchLimit caps name search results
const SearchLimit = 10

// OpenFDA queries the openFDA NDC directory
type OpenFDA struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	logger  *zap.Logger
}

// NewOpenFDA creates a client. apiKey is optional.
func NewOpenFDA(baseURL, apiKey string, logger *zap.Logger) *OpenFDA {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL == "" {
		baseURL = DefaultOpenFDABaseURL
	}
	return &OpenFDA{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		httpc:   &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

type fdaProduct struct {
	ProductNDC        string   `json:"product_ndc"`
	GenericName       string   `json:"generic_name"`
	BrandName         string   `json:"brand_name"`
	LabelerName       string   `json:"labeler_name"`
	DosageForm        string   `json:"dosage_form"`
	PharmClass        []string `json:"pharm_class"`
	ActiveIngredients []struct {
		Name     string `json:"name"`
		Strength string `json:"strength"`
	} `json:"active_ingredients"`
	Packaging []struct {
		PackageNDC string `json:"package_ndc"`
	} `json:"packaging"`
	OpenFDA struct {
		RxCUI         []string `json:"rxcui"`
		PharmClassEPC []string `json:"pharm_class_epc"`
	} `json:"openfda"`
}

// LookupByCode resolves a scanned NDC or package barcode. It returns nil
// when no candidate form of the code is listed.
func (c *OpenFDA) LookupByCode(ctx context.Context, code string) (*medication.Info, error) {
	for _, ndc := range Candidates(code) {
		results, err := c.query(ctx, fmt.Sprintf(`packaging.package_ndc:"%s"`, ndc.String()), 1)
		if err != nil {
			return nil, err
		}
		if len(results) > 0 {
			info := results[0].info()
			info.NDC = ndc.String()
			return &info, nil
		}
	}
	return nil, nil
}

// SearchByName finds products whose generic or brand name matches query
func (c *OpenFDA) SearchByName(ctx context.Context, query string) ([]medication.Info, error) {
	q := strings.ToLower(strings.Join(strings.Fields(query), " "))
	q = strings.NewReplacer(`"`, "", `\`, "").Replace(q)
	if q == "" {
		return nil, nil
	}
	search := fmt.Sprintf(`generic_name:"%s"+brand_name:"%s"`, q, q)
	results, err := c.query(ctx, search, SearchLimit*2)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []medication.Info
	for _, r := range results {
		info := r.info()
		key := strings.ToLower(info.Name + "|" + info.Strength + "|" + info.DosageForm)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, info)
		if len(out) == SearchLimit {
			break
		}
	}
	return out, nil
}

func (c *OpenFDA) query(ctx context.Context, search string, limit int) ([]fdaProduct, error) {
	v := url.Values{}
	v.Set("search", search)
	v.Set("limit", fmt.Sprint(limit))
	if c.apiKey != "" {
		v.Set("api_key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/drug/ndc.json?"+v.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("openfda: build request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openfda: %w", err)
	}
	defer resp.Body.Close()

	// openFDA answers an empty match with 404.
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("openfda %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var env struct {
		Results []fdaProduct `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("openfda: decode: %w", err)
	}
	c.logger.Debug("openfda query", zap.String("search", search), zap.Int("results", len(env.Results)))
	return env.Results, nil
}

func (p fdaProduct) info() medication.Info {
	info := medication.Info{
		Name:         titleCase(p.GenericName),
		DosageForm:   normalizeForm(p.DosageForm),
		NDC:          p.ProductNDC,
		Manufacturer: p.LabelerName,
	}
	if b := titleCase(p.BrandName); !strings.EqualFold(b, info.Name) {
		info.BrandName = b
	}
	if info.Name == "" {
		info.Name, info.BrandName = info.BrandName, ""
	}
	if len(p.ActiveIngredients) > 0 {
		info.Strength = normalizeStrength(p.ActiveIngredients[0].Strength)
	}
	if len(p.Packaging) > 0 {
		info.NDC = p.Packaging[0].PackageNDC
	}
	switch {
	case len(p.OpenFDA.PharmClassEPC) > 0:
		info.DrugClass = stripClassTag(p.OpenFDA.PharmClassEPC[0])
	case len(p.PharmClass) > 0:
		info.DrugClass = stripClassTag(p.PharmClass[0])
	}
	if len(p.OpenFDA.RxCUI) > 0 {
		info.RxCUI = p.OpenFDA.RxCUI[0]
	}
	return info
}

// normalizeStrength turns "500 mg/1" into "500mg" and "250 mg/5mL" into
// "250mg/5ml", the shape the label parser produces.
func normalizeStrength(s string) string {
	s = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	return strings.TrimSuffix(s, "/1")
}

// normalizeForm keeps the base form: "TABLET, FILM COATED" becomes "tablet"
func normalizeForm(s string) string {
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func stripClassTag(s string) string {
	if i := strings.Index(s, " ["); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
