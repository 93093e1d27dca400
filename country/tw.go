package country

// Taiwan handles Taiwanese administrative names. Names are already in the
// target script, so no parent table is carried; the handler exists for the
// candidate filter and field mapping.
type Taiwan struct {
	base
}

func init() {
	Register(Taiwan{base: newBase("tw")})
}
