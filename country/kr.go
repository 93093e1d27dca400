package country

// SouthKorea handles Korean administrative names. Source tables use the
// MOIS boundary export field names (sidonm for province, sggnm for
// city/district).
type SouthKorea struct {
	base
}

func init() {
	Register(SouthKorea{base: newBase("kr")})
}
