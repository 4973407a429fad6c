package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/sfa-scheme-engine/internal/domain/calculation"
	"github.com/xenking/sfa-scheme-engine/internal/domain/order"
	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
)

const maxBodyBytes = 1 << 20

type openRequest struct {
	Customer scheme.Customer
	Items    []order.Item
	AsOf     time.Time
}

type overrideRequest struct {
	SchemeID       string
	DiscountAmount decimal.Decimal
	FreeQuantity   int
	Reason         string
}

func readBody(r *http.Request) (*jx.Decoder, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return jx.DecodeBytes(b), nil
}

func decodeOpen(d *jx.Decoder) (openRequest, error) {
	var req openRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "customer":
			return decodeCustomer(d, &req.Customer)
		case "items":
			items, err := decodeItems(d)
			req.Items = items
			return err
		case "asOf":
			t, err := decodeDate(d)
			req.AsOf = t
			return err
		default:
			return d.Skip()
		}
	})
	return req, err
}

func decodeCart(d *jx.Decoder) ([]order.Item, error) {
	var items []order.Item
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "items" {
			return d.Skip()
		}
		var err error
		items, err = decodeItems(d)
		return err
	})
	return items, err
}

func decodeCustomer(d *jx.Decoder, c *scheme.Customer) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			c.ID, err = d.Str()
		case "type":
			var s string
			s, err = d.Str()
			c.Type = scheme.CustomerType(s)
		case "category":
			c.Category, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
}

func decodeItems(d *jx.Decoder) ([]order.Item, error) {
	items := []order.Item{}
	err := d.Arr(func(d *jx.Decoder) error {
		var item order.Item
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "productId":
				item.ProductID, err = d.Str()
			case "quantity":
				item.Quantity, err = d.Int()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	return items, err
}

func decodeOverride(d *jx.Decoder) (overrideRequest, error) {
	var req overrideRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "schemeId":
			req.SchemeID, err = d.Str()
		case "discountAmount":
			req.DiscountAmount, err = decodeDecimal(d)
		case "freeQuantity":
			req.FreeQuantity, err = d.Int()
		case "reason":
			req.Reason, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var s string
	switch d.Next() {
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		s = v
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		s = n.String()
	default:
		return decimal.Zero, errors.New("expected number")
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse amount %q", s)
	}
	return v, nil
}

// decodeDate accepts a calendar date or an RFC 3339 timestamp.
func decodeDate(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	if t, err := time.Parse(scheme.DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse date %q", s)
	}
	return t, nil
}

func money(e *jx.Encoder, v decimal.Decimal) {
	e.Str(v.StringFixed(2))
}

func encodeFreeGoods(e *jx.Encoder, fg []scheme.FreeGoods) {
	e.Arr(func(e *jx.Encoder) {
		for _, g := range fg {
			e.Obj(func(e *jx.Encoder) {
				e.Field("productId", func(e *jx.Encoder) { e.Str(g.ProductID) })
				e.Field("quantity", func(e *jx.Encoder) { e.Int(g.Quantity) })
			})
		}
	})
}

func encodeBenefit(e *jx.Encoder, b scheme.Benefit) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("discountAmount", func(e *jx.Encoder) { money(e, b.DiscountAmount) })
		e.Field("freeGoods", func(e *jx.Encoder) { encodeFreeGoods(e, b.FreeGoods) })
	})
}

func encodeSession(e *jx.Encoder, s *calculation.Session) {
	st := s.State()
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(s.ID) })
		e.Field("customer", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(s.Customer.ID) })
				e.Field("type", func(e *jx.Encoder) { e.Str(string(s.Customer.Type)) })
				if s.Customer.Category != "" {
					e.Field("category", func(e *jx.Encoder) { e.Str(s.Customer.Category) })
				}
			})
		})
		e.Field("submitted", func(e *jx.Encoder) { e.Bool(st.Submitted) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range st.Cart {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(l.ProductID) })
						e.Field("sku", func(e *jx.Encoder) { e.Str(l.SKU) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("unitPrice", func(e *jx.Encoder) { money(e, l.UnitPrice) })
					})
				}
			})
		})
		e.Field("result", func(e *jx.Encoder) { encodeResult(e, st.Result) })
	})
}

func encodeResult(e *jx.Encoder, r *calculation.Result) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("asOf", func(e *jx.Encoder) { e.Str(r.AsOf.Format(scheme.DateLayout)) })
		e.Field("subtotal", func(e *jx.Encoder) { money(e, r.Subtotal) })
		e.Field("computedDiscount", func(e *jx.Encoder) { money(e, r.ComputedDiscount) })
		e.Field("totalDiscount", func(e *jx.Encoder) { money(e, r.TotalDiscount) })
		e.Field("total", func(e *jx.Encoder) { money(e, r.Total()) })
		e.Field("freeGoods", func(e *jx.Encoder) { encodeFreeGoods(e, r.TotalFreeGoods) })
		e.Field("appliedSchemes", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, a := range r.Applied {
					_, overridden := r.Overrides[a.SchemeID]
					e.Obj(func(e *jx.Encoder) {
						e.Field("schemeId", func(e *jx.Encoder) { e.Str(a.SchemeID) })
						e.Field("name", func(e *jx.Encoder) { e.Str(a.SchemeName) })
						e.Field("type", func(e *jx.Encoder) { e.Str(string(a.Type)) })
						e.Field("benefit", func(e *jx.Encoder) { encodeBenefit(e, a.Benefit) })
						e.Field("explanation", func(e *jx.Encoder) { e.Str(a.Explanation) })
						e.Field("overridden", func(e *jx.Encoder) { e.Bool(overridden) })
					})
				}
			})
		})
		e.Field("overrides", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, a := range r.Applied {
					o, ok := r.Overrides[a.SchemeID]
					if !ok {
						continue
					}
					e.Obj(func(e *jx.Encoder) {
						e.Field("schemeId", func(e *jx.Encoder) { e.Str(o.SchemeID) })
						e.Field("original", func(e *jx.Encoder) { encodeBenefit(e, o.Original) })
						e.Field("discountAmount", func(e *jx.Encoder) { money(e, o.Benefit.DiscountAmount) })
						e.Field("freeQuantity", func(e *jx.Encoder) { e.Int(o.Benefit.FreeQuantity) })
						e.Field("reason", func(e *jx.Encoder) { e.Str(o.Reason) })
						e.Field("actor", func(e *jx.Encoder) { e.Str(o.Actor) })
						e.Field("at", func(e *jx.Encoder) { e.Str(o.At.UTC().Format(time.RFC3339)) })
					})
				}
			})
		})
		e.Field("diagnostics", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, dg := range r.Diagnostics {
					e.Obj(func(e *jx.Encoder) {
						e.Field("schemeId", func(e *jx.Encoder) { e.Str(dg.SchemeID) })
						e.Field("reason", func(e *jx.Encoder) { e.Str(dg.Reason) })
					})
				}
			})
		})
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("sessionId", func(e *jx.Encoder) { e.Str(o.SessionID) })
		e.Field("customerId", func(e *jx.Encoder) { e.Str(o.CustomerID) })
		e.Field("subtotal", func(e *jx.Encoder) { money(e, o.Subtotal) })
		e.Field("discount", func(e *jx.Encoder) { money(e, o.Discount) })
		e.Field("total", func(e *jx.Encoder) { money(e, o.Total) })
		e.Field("freeGoods", func(e *jx.Encoder) { encodeFreeGoods(e, o.FreeGoods) })
		e.Field("digest", func(e *jx.Encoder) { e.Str(o.Snapshot.Digest) })
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
	})
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}
