package model

// CodeType identifies the category of a location code embedded in a domain
// label. Airport codes come in IATA, ICAO and FAA flavors; CLLI and UN/LOCODE
// are operator conventions; geonames covers plain city and alternate names.
type CodeType string

const (
	CodeIATA     CodeType = "iata"
	CodeICAO     CodeType = "icao"
	CodeFAA      CodeType = "faa"
	CodeCLLI     CodeType = "clli"
	CodeLOCODE   CodeType = "locode"
	CodeGeonames CodeType = "geonames"
)

// CodeTypes returns all known code types in a stable order.
func CodeTypes() []CodeType {
	return []CodeType{CodeIATA, CodeICAO, CodeFAA, CodeCLLI, CodeLOCODE, CodeGeonames}
}

// Valid reports whether t is a known code type.
func (t CodeType) Valid() bool {
	switch t {
	case CodeIATA, CodeICAO, CodeFAA, CodeCLLI, CodeLOCODE, CodeGeonames:
		return true
	}
	return false
}

// Pattern returns the capture pattern substituted for the rule placeholder.
// Widths follow the code conventions: IATA/FAA 3 letters, ICAO 4, LOCODE 5
// (subdivision prefix + place code), CLLI 6, geonames any run of letters.
func (t CodeType) Pattern() string {
	var pattern string
	switch t {
	case CodeIATA, CodeFAA:
		pattern = `[a-zA-Z]{3}`
	case CodeICAO:
		pattern = `[a-zA-Z]{4}`
	case CodeLOCODE:
		pattern = `[a-zA-Z]{5}`
	case CodeCLLI:
		pattern = `[a-zA-Z]{6}`
	case CodeGeonames:
		pattern = `[a-zA-Z]+`
	default:
		return ""
	}
	return `(?P<code>` + pattern + `)`
}
