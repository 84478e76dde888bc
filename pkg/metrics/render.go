package metrics

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Render gathers the default registry and returns it in the Prometheus text
// exposition format, filtered to this runtime's metric families.
func Render() (string, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return "", fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, fam := range families {
		if !strings.HasPrefix(fam.GetName(), "starkagent_") {
			continue
		}
		if err := enc.Encode(fam); err != nil {
			return "", fmt.Errorf("failed to encode metric family %s: %w", fam.GetName(), err)
		}
	}
	return buf.String(), nil
}
