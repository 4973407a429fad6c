package scheme

import (
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of validity window dates.
const DateLayout = "2006-01-02"

// Document is the serialized form of a Definition used by the scheme master
// export, the snapshot cache and the ingest tool.
type Document struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Code               string          `json:"code"`
	Type               Type            `json:"type"`
	Applicability      Applicability   `json:"applicability"`
	Targets            []string        `json:"targets,omitempty"`
	CustomerCategories []string        `json:"customer_categories,omitempty"`
	StartDate          string          `json:"start_date"`
	EndDate            string          `json:"end_date"`
	MinOrderValue      decimal.Decimal `json:"min_order_value"`
	MaxBenefit         decimal.Decimal `json:"max_benefit"`
	Status             Status          `json:"status"`
	Config             json.RawMessage `json:"config"`
}

// configEnvelope keys each variant payload by its type name. A valid
// envelope has exactly one key set.
type configEnvelope struct {
	Slab      *SlabConfig      `json:"slab,omitempty"`
	BuyXGetY  *BuyXGetYConfig  `json:"buy_x_get_y,omitempty"`
	Combo     *ComboConfig     `json:"combo,omitempty"`
	BillWise  *BillWiseConfig  `json:"bill_wise,omitempty"`
	ValueWise *ValueWiseConfig `json:"value_wise,omitempty"`
	Display   *DisplayConfig   `json:"display,omitempty"`
}

func (e *configEnvelope) VisitSlab(c SlabConfig)           { e.Slab = &c }
func (e *configEnvelope) VisitBuyXGetY(c BuyXGetYConfig)   { e.BuyXGetY = &c }
func (e *configEnvelope) VisitCombo(c ComboConfig)         { e.Combo = &c }
func (e *configEnvelope) VisitBillWise(c BillWiseConfig)   { e.BillWise = &c }
func (e *configEnvelope) VisitValueWise(c ValueWiseConfig) { e.ValueWise = &c }
func (e *configEnvelope) VisitDisplay(c DisplayConfig)     { e.Display = &c }

func (e *configEnvelope) config() (Config, error) {
	var (
		found []Config
	)
	if e.Slab != nil {
		found = append(found, *e.Slab)
	}
	if e.BuyXGetY != nil {
		found = append(found, *e.BuyXGetY)
	}
	if e.Combo != nil {
		found = append(found, *e.Combo)
	}
	if e.BillWise != nil {
		found = append(found, *e.BillWise)
	}
	if e.ValueWise != nil {
		found = append(found, *e.ValueWise)
	}
	if e.Display != nil {
		found = append(found, *e.Display)
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	default:
		return nil, errors.Errorf("%d configuration payloads present, want exactly one", len(found))
	}
}

// MarshalConfig encodes c into its keyed envelope. A nil Config encodes as {}.
func MarshalConfig(c Config) ([]byte, error) {
	var env configEnvelope
	if c != nil {
		Visit(c, &env)
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "marshal config")
	}
	return b, nil
}

// UnmarshalConfig decodes a keyed envelope. An empty envelope yields a nil
// Config and no error; the missing payload is reported by Validate.
func UnmarshalConfig(raw []byte) (Config, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var env configEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return env.config()
}

// NewDocument serializes d.
func NewDocument(d Definition) (Document, error) {
	cfg, err := MarshalConfig(d.Config)
	if err != nil {
		return Document{}, errors.Wrapf(err, "scheme %s", d.ID)
	}
	return Document{
		ID:                 d.ID,
		Name:               d.Name,
		Code:               d.Code,
		Type:               d.Type,
		Applicability:      d.Applicability,
		Targets:            cloneStrings(d.Targets),
		CustomerCategories: cloneStrings(d.CustomerCategories),
		StartDate:          formatDate(d.StartDate),
		EndDate:            formatDate(d.EndDate),
		MinOrderValue:      d.MinOrderValue,
		MaxBenefit:         d.MaxBenefit,
		Status:             d.Status,
		Config:             cfg,
	}, nil
}

// Definition converts doc into a Definition. It never fails: a payload or
// date that cannot be decoded is retained and reported by Validate, so one
// corrupt row cannot fail a whole snapshot.
func (doc Document) Definition() Definition {
	d := Definition{
		ID:                 doc.ID,
		Name:               doc.Name,
		Code:               doc.Code,
		Type:               doc.Type,
		Applicability:      doc.Applicability,
		Targets:            cloneStrings(doc.Targets),
		CustomerCategories: cloneStrings(doc.CustomerCategories),
		MinOrderValue:      doc.MinOrderValue,
		MaxBenefit:         doc.MaxBenefit,
		Status:             doc.Status,
	}

	var err error
	if d.StartDate, err = parseDate(doc.StartDate); err != nil {
		d.decodeErr = errors.Wrap(err, "start date")
		return d
	}
	if d.EndDate, err = parseDate(doc.EndDate); err != nil {
		d.decodeErr = errors.Wrap(err, "end date")
		return d
	}
	if d.Config, err = UnmarshalConfig(doc.Config); err != nil {
		d.decodeErr = err
	}
	return d
}

// WithConfigPayload returns d with its payload decoded from raw, as stored in
// a separate column by the scheme master.
func (d Definition) WithConfigPayload(raw []byte) Definition {
	cfg, err := UnmarshalConfig(raw)
	if err != nil {
		d.Config = nil
		d.decodeErr = err
		return d
	}
	d.Config = cfg
	return d
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse date %q", s)
	}
	return t, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}
