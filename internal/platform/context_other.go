//go:build !linux

package platform

type osState struct{}

func newOSState(Options) (osState, error) {
	return osState{}, nil
}
