package acquire

import (
	"errors"

	"trackfetch/internal/track"
)

var (
	// ErrProviderUnavailable means a provider's session or configuration is
	// missing. It only reaches callers when every provider is unavailable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrNoCandidates means every provider answered with zero results.
	ErrNoCandidates = errors.New("no candidates found")

	// ErrNoAcceptableMatch means candidates existed but none cleared the
	// acceptance threshold.
	ErrNoAcceptableMatch = errors.New("no candidate met threshold")

	// ErrDownloadFailed means a candidate was selected but could not be
	// fetched. It is the one failure worth retrying right away.
	ErrDownloadFailed = errors.New("download mechanism failed")

	// ErrStreamUnsupported means the candidate's provider has no stream
	// resolution step.
	ErrStreamUnsupported = errors.New("provider cannot resolve streams")
)

// reasonErr maps a NoMatch reason to its sentinel error.
func reasonErr(r track.Reason) error {
	switch r {
	case track.ReasonNoCandidates:
		return ErrNoCandidates
	case track.ReasonProvidersUnavailable:
		return ErrProviderUnavailable
	default:
		return ErrNoAcceptableMatch
	}
}
