package scheme

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentDecode(t *testing.T) {
	raw := `{
		"id": "sch-001",
		"name": "Monsoon combo",
		"code": "MC25",
		"type": "combo",
		"applicability": "zone",
		"targets": ["west"],
		"start_date": "2025-06-01",
		"end_date": "2025-09-30",
		"min_order_value": "0",
		"max_benefit": "500",
		"status": "active",
		"config": {"combo": {
			"combo_name": "tea+biscuit",
			"items": [
				{"product_id": "tea", "required_quantity": 2},
				{"product_id": "biscuit", "required_quantity": 1}
			],
			"combo_discount": "12.5"
		}}
	}`

	var doc Document
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	def := doc.Definition()
	require.NoError(t, def.Validate())

	assert.Equal(t, TypeCombo, def.Type)
	assert.Equal(t, ApplicabilityZone, def.Applicability)
	assert.Equal(t, []string{"west"}, def.Targets)
	assert.Equal(t, "2025-09-30", def.EndDate.Format(DateLayout))
	assert.True(t, d("500").Equal(def.MaxBenefit))

	cfg, ok := def.Config.(ComboConfig)
	require.True(t, ok, "config is %T", def.Config)
	assert.Equal(t, "tea+biscuit", cfg.Name)
	require.NotNil(t, cfg.Discount)
	assert.True(t, d("12.5").Equal(*cfg.Discount))
	assert.Nil(t, cfg.Price)
}

func TestDocumentRoundTrip(t *testing.T) {
	orig := newDef("s1", qtySlab())
	orig.Code = "QS"
	orig.CustomerCategories = []string{"gold"}

	doc, err := NewDocument(orig)
	require.NoError(t, err)
	assert.JSONEq(t, `{"slab":{"basis":"quantity","tiers":[
		{"min":"10","max":"20","percent":"5","amount":"0"},
		{"min":"21","max":"50","percent":"10","amount":"0"}]}}`, string(doc.Config))

	b, err := json.Marshal(doc)
	require.NoError(t, err)
	var back Document
	require.NoError(t, json.Unmarshal(b, &back))

	got := back.Definition()
	require.NoError(t, got.Validate())
	assert.Equal(t, orig.ID, got.ID)
	assert.Equal(t, orig.CustomerCategories, got.CustomerCategories)
	assert.True(t, orig.StartDate.Equal(got.StartDate))
	assert.Equal(t, TypeSlab, got.Config.Type())
}

func TestDocumentDecode_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
	}{
		{
			name: "two payloads",
			doc: Document{ID: "x", StartDate: "2025-01-01", EndDate: "2025-01-02",
				Config: json.RawMessage(`{"slab":{"basis":"value"},"display":{}}`)},
		},
		{
			name: "bad date",
			doc:  Document{ID: "x", StartDate: "01/01/2025", EndDate: "2025-01-02"},
		},
		{
			name: "malformed json",
			doc:  Document{ID: "x", StartDate: "2025-01-01", EndDate: "2025-01-02", Config: json.RawMessage(`{"slab":`)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.Definition().Validate()
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestUnmarshalConfig_Empty(t *testing.T) {
	cfg, err := UnmarshalConfig([]byte(`{}`))
	require.NoError(t, err)
	assert.Nil(t, cfg)

	cfg, err = UnmarshalConfig(nil)
	require.NoError(t, err)
	assert.Nil(t, cfg)
}
