// Package strategies builds probe strategies from their stored settings.
package strategies

import (
	"encoding/json"
	"fmt"

	"github.com/Sh00ty/cloud-rollout/pkg/probe"
	"github.com/Sh00ty/cloud-rollout/pkg/strategies/httpprobe"
	"github.com/Sh00ty/cloud-rollout/pkg/strategies/mockprobe"
	"github.com/Sh00ty/cloud-rollout/pkg/strategies/tcpprobe"
)

// New decodes the opaque per-kind settings and constructs a strategy
// bound to the given endpoint.
func New(kind probe.Kind, endpoint string, cfg []byte) (probe.Strategy, error) {
	var (
		settingsVar any
		createFunc  func(any) (probe.Strategy, error)
	)
	switch kind {
	case probe.KindHTTP:
		settingsVar = &httpprobe.Settings{}
		createFunc = func(settings any) (probe.Strategy, error) {
			return httpprobe.New(settings.(*httpprobe.Settings), endpoint)
		}
	case probe.KindTCP:
		settingsVar = &tcpprobe.Settings{}
		createFunc = func(settings any) (probe.Strategy, error) {
			return tcpprobe.New(settings.(*tcpprobe.Settings), endpoint)
		}
	case probe.KindMock:
		settingsVar = &mockprobe.Settings{}
		createFunc = func(settings any) (probe.Strategy, error) {
			return mockprobe.New(settings.(*mockprobe.Settings)), nil
		}
	default:
		return nil, fmt.Errorf("unknown probe kind: %s", kind)
	}

	if len(cfg) == 0 {
		cfg = []byte("{}")
	}
	err := json.Unmarshal(cfg, settingsVar)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings for probe kind %s: %w", kind, err)
	}
	return createFunc(settingsVar)
}
