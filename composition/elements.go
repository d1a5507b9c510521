package composition

// MonoisotopicMasses maps element symbols to the mass of their most
// abundant isotope.
var MonoisotopicMasses = map[string]float64{
	"H":  1.00782503207,
	"C":  12.0,
	"N":  14.0030740048,
	"O":  15.99491461956,
	"Na": 22.9897692809,
	"P":  30.97376163,
	"S":  31.97207100,
	"Cl": 34.96885268,
	"K":  38.96370668,
	"F":  18.99840322,
	"Br": 78.9183371,
	"I":  126.904473,
	"Fe": 55.9349375,
	"Ca": 39.96259098,
	"Li": 7.01600455,
}

// Common compositions.
var (
	Water  = Composition{"H": 2, "O": 1}
	Proton = 1.00727646677
)
