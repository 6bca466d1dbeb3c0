package attributes

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Resolved holds the descriptive attributes of one feature. Every field is
// independently optional.
type Resolved struct {
	Class     *float64 `json:"class,omitempty"`
	FID1      *float64 `json:"fid_1,omitempty"`
	PHCodeBgy *string  `json:"ph_code_bgy,omitempty"`
	PHCodeReg *string  `json:"ph_code_reg,omitempty"`
	PHCodePro *string  `json:"ph_code_pro,omitempty"`
	PHCodeMun *string  `json:"ph_code_mun,omitempty"`
	RegName   *string  `json:"reg_name,omitempty"`
	ProName   *string  `json:"pro_name,omitempty"`
	MunName   *string  `json:"mun_name,omitempty"`
	BgyName   *string  `json:"bgy_name,omitempty"`
	AreaSqm   *float64 `json:"area_sqm,omitempty"`
	CropName  *string  `json:"crop_name,omitempty"`
}

type Resolver struct {
	keys KeyTable
}

func NewResolver(keys KeyTable) *Resolver {
	return &Resolver{keys: keys}
}

func (r *Resolver) ResolveAttributes(attrs map[string]interface{}) Resolved {
	return Resolved{
		Class:     toNumber(lookup(attrs, r.keys.Class)),
		FID1:      toNumber(lookup(attrs, r.keys.FID)),
		PHCodeBgy: toString(lookup(attrs, r.keys.PHCodeBgy)),
		PHCodeReg: toString(lookup(attrs, r.keys.PHCodeReg)),
		PHCodePro: toString(lookup(attrs, r.keys.PHCodePro)),
		PHCodeMun: toString(lookup(attrs, r.keys.PHCodeMun)),
		RegName:   toString(lookup(attrs, r.keys.RegName)),
		ProName:   toString(lookup(attrs, r.keys.ProName)),
		MunName:   toString(lookup(attrs, r.keys.MunName)),
		BgyName:   toString(lookup(attrs, r.keys.BgyName)),
		AreaSqm:   toNumber(lookup(attrs, r.keys.AreaSqm)),
		CropName:  toString(lookup(attrs, r.keys.CropName)),
	}
}

// ResolveIdentifier returns the lower-cased crop identifier of a feature. A
// numeric class wins over any crop-name key.
func (r *Resolver) ResolveIdentifier(attrs map[string]interface{}) (string, bool) {
	return r.Identifier(attrs, r.ResolveAttributes(attrs))
}

// Identifier is ResolveIdentifier for callers that already resolved the
// descriptive attributes.
func (r *Resolver) Identifier(attrs map[string]interface{}, resolved Resolved) (string, bool) {
	if resolved.Class != nil {
		return formatNumber(*resolved.Class), true
	}
	if id, ok := normalizeIdentifier(lookup(attrs, r.keys.Identifier)); ok {
		return id, true
	}
	if resolved.CropName != nil {
		return normalizeIdentifier(*resolved.CropName)
	}
	return "", false
}

// lookup returns the value of the first key holding a non-null value that is
// not blank.
func lookup(attrs map[string]interface{}, keys []string) interface{} {
	for _, key := range keys {
		value, ok := attrs[key]
		if !ok || value == nil {
			continue
		}
		if s, isString := value.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		return value
	}
	return nil
}

func toNumber(value interface{}) *float64 {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case json.Number:
		parsed, ok := parseLeadingFloat(v.String())
		if !ok {
			return nil
		}
		f = parsed
	case string:
		parsed, ok := parseLeadingFloat(v)
		if !ok {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// parseLeadingFloat reads the longest decimal literal at the start of s,
// after leading whitespace, and ignores whatever trails it: "12.5 m2" is
// 12.5. Hex, underscores and spelled-out infinities are not numbers.
func parseLeadingFloat(s string) (float64, bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0, false
	}
	end := i
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && isDigit(s[j]) {
			for j < len(s) && isDigit(s[j]) {
				j++
			}
			end = j
		}
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func toString(value interface{}) *string {
	var s string
	switch v := value.(type) {
	case string:
		s = strings.TrimSpace(v)
	case json.Number:
		s = v.String()
	default:
		n := toNumber(value)
		if n == nil {
			return nil
		}
		s = formatNumber(*n)
	}
	if s == "" {
		return nil
	}
	return &s
}

func normalizeIdentifier(value interface{}) (string, bool) {
	var s string
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		s = v
	case bool:
		s = strconv.FormatBool(v)
	default:
		n := toNumber(value)
		if n == nil {
			return "", false
		}
		s = formatNumber(*n)
	}
	s = strings.ToLower(strings.TrimSpace(s))
	return s, s != ""
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
