package country

// Japan handles Japanese administrative names. Source tables use the MLIT
// N03 boundary export field names (N03_001 for prefecture, N03_004 for
// municipality).
type Japan struct {
	base
}

func init() {
	Register(Japan{base: newBase("jp")})
}
