package domain

import "fmt"

// Outcome classifies a provider call. Classification happens once at the
// client boundary so callers switch on the outcome instead of parsing errors.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNotFound
	OutcomeRateLimited
	OutcomeTransportError
)

// String returns the outcome name used in logs and the audit log.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeTransportError:
		return "transport_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// FetchResult is the tagged result of fetching data for one gap.
// Dataset is only meaningful for OutcomeSuccess and may be empty, which
// means the provider answered but has nothing for the gap.
type FetchResult struct {
	Outcome  Outcome
	Dataset  Dataset
	Provider string
	Endpoint string
	Err      error
}

// Found wraps a successful fetch.
func Found(provider, endpoint string, data Dataset) FetchResult {
	return FetchResult{Outcome: OutcomeSuccess, Dataset: data, Provider: provider, Endpoint: endpoint}
}

// NotFound reports that the provider confirmed the data does not exist.
func NotFound(provider, endpoint string, err error) FetchResult {
	return FetchResult{Outcome: OutcomeNotFound, Provider: provider, Endpoint: endpoint, Err: err}
}

// RateLimited reports provider distress (429/503 class).
func RateLimited(provider, endpoint string, err error) FetchResult {
	return FetchResult{Outcome: OutcomeRateLimited, Provider: provider, Endpoint: endpoint, Err: err}
}

// TransportFailure reports any other failure.
func TransportFailure(provider, endpoint string, err error) FetchResult {
	return FetchResult{Outcome: OutcomeTransportError, Provider: provider, Endpoint: endpoint, Err: err}
}

// Absent reports whether the result means "no data exists": either an
// explicit NotFound or a successful call with an empty dataset.
func (r FetchResult) Absent() bool {
	return r.Outcome == OutcomeNotFound || (r.Outcome == OutcomeSuccess && r.Dataset.Empty())
}

// Error returns a printable description of the failure, or "" on success.
func (r FetchResult) Error() string {
	if r.Err == nil {
		if r.Outcome == OutcomeSuccess {
			return ""
		}
		return r.Outcome.String()
	}
	return r.Err.Error()
}
