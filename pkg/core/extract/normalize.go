package extract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"deal_intake/pkg/core/normalize"
)

// aliases maps alternative underwriting keys onto canonical columns. The
// canonical key wins when both are present.
var aliases = map[string]string{
	"purchase_price":       "land_cost",
	"acquisition_price":    "land_cost",
	"construction_cost":    "hard_cost",
	"renovation_budget":    "hard_cost",
	"capex":                "hard_cost",
	"closing_costs":        "soft_cost",
	"debt_amount":          "loan_amount",
	"senior_loan":          "loan_amount",
	"equity":               "equity_required",
	"lp_equity":            "equity_required",
	"irr":                  "levered_irr",
	"net_irr":              "levered_irr",
	"gross_irr":            "unlevered_irr",
	"moic":                 "equity_multiple",
	"em":                   "equity_multiple",
	"dscr":                 "dscr_at_stabilization",
	"average_cash_on_cash": "avg_cash_on_cash",
	"cash_on_cash":         "avg_cash_on_cash",
	"cap_rate_exit":        "exit_cap_rate",
	"going_out_cap":        "exit_cap_rate",
	"yoc":                  "yield_on_cost",
}

// decimalFields are the fixed-precision underwriting columns.
var decimalFields = map[string]bool{
	"total_project_cost": true, "land_cost": true, "hard_cost": true, "soft_cost": true,
	"loan_amount": true, "equity_required": true, "our_investment": true,
	"interest_rate": true, "ltv": true, "ltc": true, "dscr_at_stabilization": true,
	"levered_irr": true, "unlevered_irr": true, "equity_multiple": true,
	"avg_cash_on_cash": true, "exit_cap_rate": true, "yield_on_cost": true,
}

var (
	dealIntFields      = map[string]bool{"num_units": true, "building_sf": true, "year_built": true}
	dealFloatFields    = map[string]bool{"hold_period_years": true}
	principalIntFields = map[string]bool{"years_experience": true}
)

// normalizeRaw rewrites a decoded model response in place so it decodes into
// models.ExtractionCandidate: numbers are canonicalized, aliases folded,
// unknown underwriting keys moved to details. It returns non-fatal notes.
func normalizeRaw(raw map[string]interface{}) []string {
	var notes []string

	if ops, ok := raw["operators"].([]interface{}); ok {
		for _, op := range ops {
			if m, ok := op.(map[string]interface{}); ok {
				coerceObject(m, nil, nil)
			}
		}
	} else if raw["operators"] != nil {
		notes = append(notes, "operators is not a list; ignored")
		delete(raw, "operators")
	}
	if op, ok := raw["operator"].(map[string]interface{}); ok {
		coerceObject(op, nil, nil)
	} else {
		delete(raw, "operator")
	}

	if deal, ok := raw["deal"].(map[string]interface{}); ok {
		notes = append(notes, coerceObject(deal, dealIntFields, dealFloatFields)...)
	} else {
		raw["deal"] = map[string]interface{}{}
	}

	if ps, ok := raw["principals"].([]interface{}); ok {
		kept := ps[:0]
		for _, p := range ps {
			m, ok := p.(map[string]interface{})
			if !ok {
				continue
			}
			if name, _ := m["full_name"].(string); strings.TrimSpace(name) == "" {
				notes = append(notes, "dropped principal without full_name")
				continue
			}
			notes = append(notes, coerceObject(m, principalIntFields, nil)...)
			kept = append(kept, m)
		}
		raw["principals"] = kept
	} else {
		delete(raw, "principals")
	}

	if uw, ok := raw["underwriting"].(map[string]interface{}); ok {
		raw["underwriting"], notes = normalizeUnderwriting(uw, notes)
	} else {
		delete(raw, "underwriting")
	}
	delete(raw, "warnings")
	return notes
}

// coerceObject turns numbers into strings for text fields, parses numeric
// fields, and nulls out empty strings.
func coerceObject(m map[string]interface{}, ints, floats map[string]bool) []string {
	var notes []string
	for k, v := range m {
		if k == "is_primary" {
			if _, ok := v.(bool); !ok {
				m[k] = strings.EqualFold(fmt.Sprint(v), "true")
			}
			continue
		}
		if v == nil {
			continue
		}
		switch {
		case ints[k]:
			if d, ok := normalize.ParseNumeric(v); ok {
				m[k] = d.IntPart()
			} else {
				notes = append(notes, fmt.Sprintf("%s: unparseable number %v", k, v))
				m[k] = nil
			}
		case floats[k]:
			if f, ok := normalize.ParseFloat(v); ok {
				m[k] = f
			} else {
				notes = append(notes, fmt.Sprintf("%s: unparseable number %v", k, v))
				m[k] = nil
			}
		default:
			switch t := v.(type) {
			case string:
				if strings.TrimSpace(t) == "" {
					m[k] = nil
				}
			case float64:
				m[k] = strconv.FormatFloat(t, 'f', -1, 64)
			case bool:
				m[k] = strconv.FormatBool(t)
			default:
				m[k] = nil
			}
		}
	}
	return notes
}

func normalizeUnderwriting(uw map[string]interface{}, notes []string) (map[string]interface{}, []string) {
	out := make(map[string]interface{})
	details := make(map[string]interface{})

	if d, ok := uw["details_json"].(map[string]interface{}); ok {
		flattenDetails("", d, details)
	}

	keys := make([]string, 0, len(uw))
	for k := range uw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := uw[k]
		switch {
		case k == "details_json":
		case decimalFields[k]:
			if v == nil {
				continue
			}
			if d, ok := normalize.ParseNumeric(v); ok {
				out[k] = json.Number(d.String())
			} else {
				notes = append(notes, fmt.Sprintf("underwriting.%s: unparseable number %v", k, v))
			}
		case k == "hold_period_months":
			if d, ok := normalize.ParseNumeric(v); ok {
				out[k] = d.IntPart()
			}
		default:
			if v == nil {
				continue
			}
			// Aliases and unknown keys are kept verbatim in details.
			if m, ok := v.(map[string]interface{}); ok {
				flattenDetails(k, m, details)
			} else if isScalar(v) {
				details[k] = v
			}
		}
	}

	// Fold aliases in sorted order so the result is deterministic.
	for _, alias := range sortedKeys(aliases) {
		canonical := aliases[alias]
		if _, have := out[canonical]; have {
			continue
		}
		v, ok := uw[alias]
		if !ok || v == nil {
			continue
		}
		if d, ok := normalize.ParseNumeric(v); ok {
			out[canonical] = json.Number(d.String())
		}
	}

	if len(details) > 0 {
		out["details_json"] = details
	}
	return out, notes
}

func flattenDetails(prefix string, in map[string]interface{}, out map[string]interface{}) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch t := v.(type) {
		case map[string]interface{}:
			flattenDetails(key, t, out)
		default:
			if isScalar(v) && v != nil {
				out[key] = v
			}
		}
	}
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case nil, string, bool, float64, json.Number:
		return true
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
