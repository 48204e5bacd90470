// Package filter implements the payload predicate language a Collection
// search can apply to candidates after the index returns them: equality,
// ranges, set membership, string matching, null checks, geo bounding-box
// and radius, array cardinality, and boolean composition.
package filter

import (
	"fmt"
	"math"
	"strings"
)

// Op identifies a predicate node's kind. A closed set matching the
// predicate language named in the collection's search contract.
type Op string

const (
	OpAnd        Op = "and"
	OpOr         Op = "or"
	OpNot        Op = "not"
	OpEq         Op = "eq"
	OpNe         Op = "ne"
	OpGt         Op = "gt"
	OpGte        Op = "gte"
	OpLt         Op = "lt"
	OpLte        Op = "lte"
	OpIn         Op = "in"
	OpSubstring  Op = "substring"
	OpPrefix     Op = "prefix"
	OpSuffix     Op = "suffix"
	OpIsNull     Op = "is_null"
	OpIsEmpty    Op = "is_empty"
	OpGeoBBox    Op = "geo_bbox"
	OpGeoRadius  Op = "geo_radius"
	OpArrayCount Op = "array_count" // Value holds {op: gte/lte/eq, n: int}
)

// Expr is one node of the filter AST. Leaf nodes set Field/Value; boolean
// composition nodes (And/Or/Not) set Children.
type Expr struct {
	Op       Op
	Field    string
	Value    any
	Children []*Expr
}

func And(children ...*Expr) *Expr { return &Expr{Op: OpAnd, Children: children} }
func Or(children ...*Expr) *Expr  { return &Expr{Op: OpOr, Children: children} }
func Not(child *Expr) *Expr       { return &Expr{Op: OpNot, Children: []*Expr{child}} }

func Eq(field string, v any) *Expr  { return &Expr{Op: OpEq, Field: field, Value: v} }
func Ne(field string, v any) *Expr  { return &Expr{Op: OpNe, Field: field, Value: v} }
func Gt(field string, v any) *Expr  { return &Expr{Op: OpGt, Field: field, Value: v} }
func Gte(field string, v any) *Expr { return &Expr{Op: OpGte, Field: field, Value: v} }
func Lt(field string, v any) *Expr  { return &Expr{Op: OpLt, Field: field, Value: v} }
func Lte(field string, v any) *Expr { return &Expr{Op: OpLte, Field: field, Value: v} }
func In(field string, values ...any) *Expr {
	return &Expr{Op: OpIn, Field: field, Value: values}
}
func Substring(field, needle string) *Expr { return &Expr{Op: OpSubstring, Field: field, Value: needle} }
func Prefix(field, p string) *Expr         { return &Expr{Op: OpPrefix, Field: field, Value: p} }
func Suffix(field, s string) *Expr         { return &Expr{Op: OpSuffix, Field: field, Value: s} }
func IsNull(field string) *Expr            { return &Expr{Op: OpIsNull, Field: field} }
func IsEmpty(field string) *Expr           { return &Expr{Op: OpIsEmpty, Field: field} }

// GeoPoint is the {lat, lon} shape a payload field must have to satisfy a
// geo predicate.
type GeoPoint struct{ Lat, Lon float64 }

// GeoBBox matches when field is a GeoPoint within [minLat,maxLat] x
// [minLon,maxLon].
func GeoBBox(field string, minLat, minLon, maxLat, maxLon float64) *Expr {
	return &Expr{Op: OpGeoBBox, Field: field, Value: [4]float64{minLat, minLon, maxLat, maxLon}}
}

// GeoRadius matches when field is a GeoPoint within radiusKM of center,
// using the haversine great-circle distance.
func GeoRadius(field string, center GeoPoint, radiusKM float64) *Expr {
	return &Expr{Op: OpGeoRadius, Field: field, Value: geoRadiusArgs{center, radiusKM}}
}

type geoRadiusArgs struct {
	Center   GeoPoint
	RadiusKM float64
}

// ArrayCountGte matches when the array-valued field has length >= n.
func ArrayCountGte(field string, n int) *Expr {
	return &Expr{Op: OpArrayCount, Field: field, Value: arrayCountArgs{"gte", n}}
}

// ArrayCountLte matches when the array-valued field has length <= n.
func ArrayCountLte(field string, n int) *Expr {
	return &Expr{Op: OpArrayCount, Field: field, Value: arrayCountArgs{"lte", n}}
}

type arrayCountArgs struct {
	Op string
	N  int
}

const earthRadiusKM = 6371.0

// Eval evaluates expr against a payload map, returning true when the
// record matches. A nil expr always matches (no filter configured).
func Eval(expr *Expr, payload map[string]any) bool {
	if expr == nil {
		return true
	}
	switch expr.Op {
	case OpAnd:
		for _, c := range expr.Children {
			if !Eval(c, payload) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range expr.Children {
			if Eval(c, payload) {
				return true
			}
		}
		return len(expr.Children) == 0
	case OpNot:
		return len(expr.Children) == 1 && !Eval(expr.Children[0], payload)
	case OpIsNull:
		v, ok := payload[expr.Field]
		return !ok || v == nil
	case OpIsEmpty:
		v, ok := payload[expr.Field]
		if !ok || v == nil {
			return true
		}
		switch t := v.(type) {
		case string:
			return t == ""
		case []any:
			return len(t) == 0
		default:
			return false
		}
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		v, ok := payload[expr.Field]
		if !ok {
			return expr.Op == OpNe
		}
		return compare(v, expr.Value, expr.Op)
	case OpIn:
		v, ok := payload[expr.Field]
		if !ok {
			return false
		}
		for _, cand := range expr.Value.([]any) {
			if compare(v, cand, OpEq) {
				return true
			}
		}
		return false
	case OpSubstring:
		return stringField(payload, expr.Field, func(s string) bool {
			return strings.Contains(s, expr.Value.(string))
		})
	case OpPrefix:
		return stringField(payload, expr.Field, func(s string) bool {
			return strings.HasPrefix(s, expr.Value.(string))
		})
	case OpSuffix:
		return stringField(payload, expr.Field, func(s string) bool {
			return strings.HasSuffix(s, expr.Value.(string))
		})
	case OpGeoBBox:
		return evalGeoBBox(payload, expr)
	case OpGeoRadius:
		return evalGeoRadius(payload, expr)
	case OpArrayCount:
		return evalArrayCount(payload, expr)
	default:
		return false
	}
}

func stringField(payload map[string]any, field string, pred func(string) bool) bool {
	v, ok := payload[field]
	if !ok {
		return false
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	return pred(s)
}

func toGeoPoint(v any) (GeoPoint, bool) {
	switch t := v.(type) {
	case GeoPoint:
		return t, true
	case map[string]any:
		lat, latOK := toFloat64(t["lat"])
		lon, lonOK := toFloat64(t["lon"])
		return GeoPoint{lat, lon}, latOK && lonOK
	default:
		return GeoPoint{}, false
	}
}

func evalGeoBBox(payload map[string]any, expr *Expr) bool {
	v, ok := payload[expr.Field]
	if !ok {
		return false
	}
	pt, ok := toGeoPoint(v)
	if !ok {
		return false
	}
	box := expr.Value.([4]float64)
	minLat, minLon, maxLat, maxLon := box[0], box[1], box[2], box[3]
	return pt.Lat >= minLat && pt.Lat <= maxLat && pt.Lon >= minLon && pt.Lon <= maxLon
}

func evalGeoRadius(payload map[string]any, expr *Expr) bool {
	v, ok := payload[expr.Field]
	if !ok {
		return false
	}
	pt, ok := toGeoPoint(v)
	if !ok {
		return false
	}
	args := expr.Value.(geoRadiusArgs)
	return haversineKM(pt, args.Center) <= args.RadiusKM
}

// haversineKM computes great-circle distance in kilometers, grounded on the
// same formula used for geo radius search in the example pack.
func haversineKM(a, b GeoPoint) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func evalArrayCount(payload map[string]any, expr *Expr) bool {
	v, ok := payload[expr.Field]
	if !ok {
		return false
	}
	arr, ok := v.([]any)
	if !ok {
		return false
	}
	args := expr.Value.(arrayCountArgs)
	switch args.Op {
	case "gte":
		return len(arr) >= args.N
	case "lte":
		return len(arr) <= args.N
	default:
		return len(arr) == args.N
	}
}

func compare(a, b any, op Op) bool {
	if af, aok := toFloat64(a); aok {
		if bf, bok := toFloat64(b); bok {
			return compareFloat(af, bf, op)
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return compareString(as, bs, op)
	}
	if op == OpEq {
		return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
	}
	if op == OpNe {
		return fmt.Sprintf("%v", a) != fmt.Sprintf("%v", b)
	}
	return false
}

func compareFloat(a, b float64, op Op) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	default:
		return false
	}
}

func compareString(a, b string, op Op) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	default:
		return false
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
