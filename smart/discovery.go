package smart

// DiscoveryResult is the outcome of one discovery attempt. It is one of
// Discovered, Malformed or Unreachable.
type DiscoveryResult interface {
	isDiscoveryResult()
}

// Discovered carries validated endpoints.
type Discovered struct {
	Endpoints Endpoints
}

// Malformed means the server answered but the document was unusable.
type Malformed struct {
	Reason string
}

// Unreachable means the server could not be reached or answered non-2xx.
type Unreachable struct {
	Cause error
}

func (Discovered) isDiscoveryResult()  {}
func (Malformed) isDiscoveryResult()   {}
func (Unreachable) isDiscoveryResult() {}
