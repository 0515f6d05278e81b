package dsg

// ignoredNames are coordinate spellings never loaded as parameters.
var ignoredNames = map[string]bool{
	"longitude":    true,
	"latitude":     true,
	"time":         true,
	"Time":         true,
	"LONGITUDE":    true,
	"LATITUDE":     true,
	"TIME":         true,
	"NominalDepth": true,
	"esecs":        true,
	"Longitude":    true,
	"Latitude":     true,
	"DEPTH":        true,
	"depth":        true,
}

// IsIgnored reports whether name is a known coordinate spelling.
func IsIgnored(name string) bool {
	return ignoredNames[name]
}
