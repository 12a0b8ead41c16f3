package drugdb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/medscan/internal/domain/medication"
)

// Catalog serves lookups from the drug_catalog table
type Catalog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewCatalog creates a catalog over pool
func NewCatalog(pool *pgxpool.Pool, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{pool: pool, logger: logger}
}

const catalogColumns = `ndc, name, COALESCE(brand_name, ''), COALESCE(strength, ''),
	COALESCE(dosage_form, ''), COALESCE(manufacturer, ''), COALESCE(drug_class, ''), COALESCE(rxcui, '')`

// LookupByCode matches any candidate form of code, ignoring hyphens
func (c *Catalog) LookupByCode(ctx context.Context, code string) (*medication.Info, error) {
	keys := lookupKeys(code)
	if len(keys) == 0 {
		return nil, nil
	}

	row := c.pool.QueryRow(ctx, `SELECT `+catalogColumns+`
		FROM drug_catalog
		WHERE ndc_digits = ANY($1)
		LIMIT 1`, keys)

	info, err := scanInfo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}
	return &info, nil
}

// SearchByName matches generic or brand names containing query
func (c *Catalog) SearchByName(ctx context.Context, query string) ([]medication.Info, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	pattern := "%" + strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(q) + "%"

	rows, err := c.pool.Query(ctx, `SELECT `+catalogColumns+`
		FROM drug_catalog
		WHERE name ILIKE $1 OR brand_name ILIKE $1
		ORDER BY lower(name) = lower($2) DESC, name, strength
		LIMIT $3`, pattern, q, SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	defer rows.Close()

	var out []medication.Info
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog search: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Upsert stores or refreshes an entry keyed by its NDC
func (c *Catalog) Upsert(ctx context.Context, info medication.Info) error {
	if info.NDC == "" {
		return errors.New("catalog upsert: entry has no NDC")
	}
	_, err := c.pool.Exec(ctx, `
		INSERT INTO drug_catalog (ndc, ndc_digits, name, brand_name, strength, dosage_form, manufacturer, drug_class, rxcui)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''))
		ON CONFLICT (ndc) DO UPDATE SET
			name = EXCLUDED.name,
			brand_name = EXCLUDED.brand_name,
			strength = EXCLUDED.strength,
			dosage_form = EXCLUDED.dosage_form,
			manufacturer = EXCLUDED.manufacturer,
			drug_class = EXCLUDED.drug_class,
			rxcui = EXCLUDED.rxcui`,
		info.NDC, catalogDigits(info.NDC), info.Name, info.BrandName, info.Strength,
		info.DosageForm, info.Manufacturer, info.DrugClass, info.RxCUI)
	if err != nil {
		return fmt.Errorf("catalog upsert %s: %w", info.NDC, err)
	}
	return nil
}

// catalogDigits is the stored match key: the 11-digit form when the code
// is a full package NDC, otherwise its bare digits.
func catalogDigits(ndc string) string {
	if c := Candidates(ndc); len(c) == 1 {
		return c[0].Eleven()
	}
	return Digits(ndc)
}

// lookupKeys lists the stored keys a scanned code may match
func lookupKeys(code string) []string {
	seen := make(map[string]bool)
	var keys []string
	add := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, n := range Candidates(code) {
		add(n.Eleven())
	}
	add(Digits(code))
	return keys
}

func scanInfo(row pgx.Row) (medication.Info, error) {
	var info medication.Info
	err := row.Scan(&info.NDC, &info.Name, &info.BrandName, &info.Strength,
		&info.DosageForm, &info.Manufacturer, &info.DrugClass, &info.RxCUI)
	return info, err
}

// Lookup is the lookup and search surface shared by Catalog and OpenFDA
type Lookup interface {
	LookupByCode(ctx context.Context, code string) (*medication.Info, error)
	SearchByName(ctx context.Context, query string) ([]medication.Info, error)
}

// Cached answers from the catalog first and falls back to a remote source,
// storing remote code hits in the catalog.
type Cached struct {
	catalog *Catalog
	remote  Lookup
	logger  *zap.Logger
}

// NewCached chains catalog and remote
func NewCached(catalog *Catalog, remote Lookup, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{catalog: catalog, remote: remote, logger: logger}
}

// LookupByCode implements scan.CodeLookup
func (c *Cached) LookupByCode(ctx context.Context, code string) (*medication.Info, error) {
	info, err := c.catalog.LookupByCode(ctx, code)
	if err != nil {
		c.logger.Warn("catalog lookup failed, using remote", zap.Error(err))
	}
	if info != nil {
		return info, nil
	}

	info, err = c.remote.LookupByCode(ctx, code)
	if err != nil || info == nil {
		return info, err
	}
	if err := c.catalog.Upsert(ctx, *info); err != nil {
		c.logger.Warn("catalog cache write failed", zap.String("ndc", info.NDC), zap.Error(err))
	}
	return info, nil
}

// SearchByName implements scan.NameSearch
func (c *Cached) SearchByName(ctx context.Context, query string) ([]medication.Info, error) {
	list, err := c.catalog.SearchByName(ctx, query)
	if err != nil {
		c.logger.Warn("catalog search failed, using remote", zap.Error(err))
	}
	if len(list) > 0 {
		return list, nil
	}
	return c.remote.SearchByName(ctx, query)
}
