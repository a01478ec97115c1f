package contract

// QuerySpec is the request-scoped query description produced by the HTTP
// layer. Plain immutable value, no lifecycle of its own.
type QuerySpec struct {
	// Page is 1-based.
	Page     int
	PageSize int
	// Sort is a comma-separated list of api names, "-" prefix for descending.
	Sort string
	// Filters maps api name to "op:value" or a bare "value".
	Filters map[string]string
	Search  string
	// Fields is a comma-separated projection of api names.
	Fields string
}

// ExpandSpec lists the relation api names requested for expansion.
type ExpandSpec struct {
	Expand []string
}
